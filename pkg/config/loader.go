package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/kelseyhightower/envconfig"
)

// SecretsRepository abstracts the Vault client surface the loader needs.
type SecretsRepository interface {
	SetToken(token string)
	GetSecrets(ctx context.Context, path string) (*api.Secret, error)
}

// Loader overlays store credentials from Vault on top of the environment
// configuration and re-applies them when the secret version changes.
type Loader struct {
	cfg              *Settings
	secretsRepo      SecretsRepository
	configSignalChan chan os.Signal
	reloadErrors     chan error
	ticker           *time.Ticker
	lastVersion      uint
}

// Init parses the coordination settings from the process environment.
func Init() (*Settings, error) {
	cfg := &Settings{}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("unable to parse coordination configuration: %w", err)
	}

	return cfg, nil
}

func NewLoader(cfg *Settings, secretsRepo SecretsRepository, initialVersion uint) *Loader {
	return &Loader{
		cfg:              cfg,
		secretsRepo:      secretsRepo,
		configSignalChan: make(chan os.Signal, 1),
		reloadErrors:     make(chan error, 1),
		lastVersion:      initialVersion,
	}
}

// Load authenticates against Vault, applies the stored secrets to the
// settings, and returns the secret version that was applied.
func (l *Loader) Load(ctx context.Context) (uint, error) {
	if !l.cfg.SecretsStorage.Enabled {
		return 0, fmt.Errorf("secret storage is not enabled")
	}

	if l.cfg.SecretsStorage.Token == "" {
		return 0, fmt.Errorf("token is required for vault authentication")
	}

	l.secretsRepo.SetToken(l.cfg.SecretsStorage.Token)

	data, err := l.loadSecretsFromPath(ctx, "data")
	if err != nil {
		return 0, fmt.Errorf("failed to load secrets from vault: %w", err)
	}

	if err := l.applySecretsToConfig(data); err != nil {
		return 0, fmt.Errorf("failed to apply secrets to config: %w", err)
	}

	metadata, err := l.loadSecretsFromPath(ctx, "metadata")
	if err != nil {
		return 0, fmt.Errorf("failed to load secret metadata: %w", err)
	}

	version, err := l.getSecretVersion(metadata)
	if err != nil {
		return 0, fmt.Errorf("failed to get secret version: %w", err)
	}

	return version, nil
}

// WatchConfigSignals reloads secrets on SIGHUP (or the poll interval) and
// dumps the active configuration on SIGUSR1. Reload outcomes are reported
// on the returned channel.
func (l *Loader) WatchConfigSignals(ctx context.Context) <-chan error {
	signal.Notify(l.configSignalChan, syscall.SIGHUP, syscall.SIGUSR1)

	if l.cfg.SecretsStorage.Enabled && l.cfg.SecretsStorage.PollInterval > 0 {
		l.ticker = time.NewTicker(l.cfg.SecretsStorage.PollInterval)
	}

	go func() {
		defer signal.Stop(l.configSignalChan)
		defer close(l.configSignalChan)
		defer close(l.reloadErrors)

		if l.ticker != nil {
			defer l.ticker.Stop()
		}

		var reloadTickerChan <-chan time.Time
		if l.ticker != nil {
			reloadTickerChan = l.ticker.C
		}

		for {
			select {
			case <-ctx.Done():
				return

			case <-reloadTickerChan:
				l.handleConfigReload(ctx)

			case sig := <-l.configSignalChan:
				switch sig {
				case syscall.SIGHUP:
					l.handleConfigReload(ctx)

				case syscall.SIGUSR1:
					l.DumpConfig()
				}
			}
		}
	}()

	return l.reloadErrors
}

func (l *Loader) DumpConfig() {
	configJSON, err := json.MarshalIndent(l.cfg, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stdout, "Error marshaling config: %v\n", err)

		return
	}

	fmt.Fprintf(os.Stdout, "\n=== Configuration Dump ===\n%s\n=== End Configuration ===\n\n", string(configJSON))
}

func (l *Loader) handleConfigReload(ctx context.Context) {
	metadata, err := l.loadSecretsFromPath(ctx, "metadata")
	if err != nil {
		l.reportReloadStatus(fmt.Errorf("failed to load secret metadata: %w", err))

		return
	}

	currentVersion, err := l.getSecretVersion(metadata)
	if err != nil {
		l.reportReloadStatus(fmt.Errorf("failed to get secret version: %w", err))

		return
	}

	if currentVersion == l.lastVersion {
		return
	}

	version, err := l.Load(ctx)
	if err != nil {
		l.reportReloadStatus(err)

		return
	}

	l.lastVersion = version
	l.reportReloadStatus(nil)
}

func (l *Loader) loadSecretsFromPath(ctx context.Context, pathType string) (map[string]any, error) {
	secret, err := l.getSecretsWithRetry(ctx)
	if err != nil {
		return nil, err
	}

	if secret == nil || secret.Data == nil {
		return nil, nil
	}

	result, ok := secret.Data[pathType].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("invalid secret format at mount %s, missing %q key", l.cfg.SecretsStorage.MountPath, pathType)
	}

	return result, nil
}

func (l *Loader) getSecretsWithRetry(ctx context.Context) (*api.Secret, error) {
	path := fmt.Sprintf("apps/data/%s", l.cfg.SecretsStorage.MountPath)

	ctx, cancel := context.WithTimeout(ctx, l.cfg.SecretsStorage.Timeout)
	defer cancel()

	var secret *api.Secret
	var err error

	for attempt := uint(0); attempt <= l.cfg.SecretsStorage.MaxRetries; attempt++ {
		secret, err = l.secretsRepo.GetSecrets(ctx, path)
		if err == nil {
			break
		}

		if attempt < l.cfg.SecretsStorage.MaxRetries {
			time.Sleep(time.Duration(attempt+1) * time.Second)
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read from path %s after %d retries: %w", path, l.cfg.SecretsStorage.MaxRetries, err)
	}

	return secret, nil
}

func (l *Loader) getSecretVersion(metadata map[string]any) (uint, error) {
	if metadata == nil {
		return 0, nil
	}

	currentVersion, ok := metadata["current_version"]
	if !ok {
		return 0, nil
	}

	switch v := currentVersion.(type) {
	case float64:
		return uint(v), nil
	case uint:
		return v, nil
	case json.Number:
		version, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("failed to parse version: %w", err)
		}

		return uint(version), nil
	default:
		return 0, fmt.Errorf("unexpected version type: %T", currentVersion)
	}
}

func (l *Loader) applySecretsToConfig(data map[string]any) error {
	for key, value := range data {
		strValue, ok := value.(string)
		if !ok || strValue == "" {
			continue
		}

		if err := os.Setenv(key, strValue); err != nil {
			return fmt.Errorf("failed to set environment variable %s: %w", key, err)
		}

		switch key {
		case "STORE_PASSWORD":
			l.cfg.Store.Password = strValue
		case "STORE_ADDRESS":
			l.cfg.Store.Address = strValue
		}
	}

	return nil
}

func (l *Loader) reportReloadStatus(err error) {
	select {
	case l.reloadErrors <- err:
	default:
	}
}
