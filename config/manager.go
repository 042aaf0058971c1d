package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ConfigManager interface for configuration management
type ConfigManager interface {
	LoadConfig(configName string, config Config) error
	GetConfig(configName string) (Config, error)
	RegisterValidator(configName string, validator ValidatorFunc)
	RegisterHook(configName string, hook HookFunc)
	AddChangeListener(listener ConfigChangeListener)
	SetBasePath(path string)
	SetEnvironment(env string)
	Close() error
}

// ValidatorFunc configuration validation function
type ValidatorFunc func(Config) error

// HookFunc configuration change hook function
type HookFunc func(oldVal, newVal Config) error

// configManager implementation of ConfigManager interface
type configManager struct {
	mu         sync.RWMutex
	configs    map[string]Config
	watchers   map[string]*fsnotify.Watcher
	validators map[string]ValidatorFunc
	hooks      map[string][]HookFunc
	listeners  []ConfigChangeListener
	basePath   string
	env        string
}

var (
	_instance   ConfigManager
	_instanceMu sync.Mutex
)

// GetInstance returns the process wide configuration manager, creating it on first use.
func GetInstance() ConfigManager {
	_instanceMu.Lock()
	defer _instanceMu.Unlock()
	if _instance == nil {
		_instance = NewConfigManager()
	}
	return _instance
}

// ResetInstance closes and drops the process wide manager. Mostly for tests.
func ResetInstance() {
	_instanceMu.Lock()
	defer _instanceMu.Unlock()
	if _instance != nil {
		_ = _instance.Close()
	}
	_instance = nil
}

// NewConfigManager creates a new configuration manager
func NewConfigManager() ConfigManager {
	return &configManager{
		configs:    make(map[string]Config),
		watchers:   make(map[string]*fsnotify.Watcher),
		validators: make(map[string]ValidatorFunc),
		hooks:      make(map[string][]HookFunc),
		basePath:   "./configs",
		env:        "development",
	}
}

func (cm *configManager) newViper(configName string) *viper.Viper {
	v := viper.New()
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath(fmt.Sprintf("%s/%s", cm.basePath, cm.env))
	v.AddConfigPath(cm.basePath)

	// Environment variables override file values, e.g. CLIENT_HOST for client.host.
	v.AutomaticEnv()
	v.SetEnvPrefix(strings.ToUpper(configName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return v
}

// validate runs the config's own Validate and then the registered validator.
func (cm *configManager) validate(configName string, config Config) error {
	if err := config.Validate(); err != nil {
		return err
	}
	if validator, exists := cm.validators[configName]; exists {
		if err := validator(config); err != nil {
			return err
		}
	}
	return nil
}

// LoadConfig loads configuration from file
func (cm *configManager) LoadConfig(configName string, config Config) error {
	if config == nil {
		return errors.New("config cannot be nil")
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	v := cm.newViper(configName)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config failed: %w", err)
	}

	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("unmarshal config failed: %w", err)
	}

	if err := cm.validate(configName, config); err != nil {
		return fmt.Errorf("validate config failed: %w", err)
	}

	cm.configs[configName] = config

	if err := cm.watchConfigFile(configName, v.ConfigFileUsed()); err != nil {
		return fmt.Errorf("watch config file failed: %w", err)
	}

	return nil
}

// GetConfig returns the last successfully loaded value of a configuration.
func (cm *configManager) GetConfig(configName string) (Config, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	config, exists := cm.configs[configName]
	if !exists {
		return nil, fmt.Errorf("config %s not found", configName)
	}

	return config, nil
}

// RegisterValidator registers configuration validator
func (cm *configManager) RegisterValidator(configName string, validator ValidatorFunc) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.validators[configName] = validator
}

// RegisterHook registers configuration change hook
func (cm *configManager) RegisterHook(configName string, hook HookFunc) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.hooks[configName] = append(cm.hooks[configName], hook)
}

// AddChangeListener registers a listener notified after every successful reload.
func (cm *configManager) AddChangeListener(listener ConfigChangeListener) {
	if listener == nil {
		return
	}
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.listeners = append(cm.listeners, listener)
}

// SetBasePath sets base path for configuration files
func (cm *configManager) SetBasePath(path string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.basePath = path
}

// SetEnvironment sets environment for configuration
func (cm *configManager) SetEnvironment(env string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.env = env
}

// watchConfigFile watches the directory holding the configuration file so that
// editors which replace the file (rename + create) are picked up too.
// Caller holds cm.mu.
func (cm *configManager) watchConfigFile(configName, configFile string) error {
	if configFile == "" {
		return nil
	}
	if old, ok := cm.watchers[configName]; ok {
		_ = old.Close()
		delete(cm.watchers, configName)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	cm.watchers[configName] = watcher

	target := filepath.Clean(configFile)
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					cm.reloadConfig(configName)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				fmt.Fprintf(os.Stderr, "config watcher error: %v\n", err)
			}
		}
	}()

	return watcher.Add(filepath.Dir(target))
}

// reloadConfig reloads configuration when file changes. A reload that fails to
// read, decode or validate keeps the previous value.
func (cm *configManager) reloadConfig(configName string) {
	cm.mu.Lock()

	oldConfig, exists := cm.configs[configName]
	if !exists {
		cm.mu.Unlock()
		return
	}

	// preserve the original type via reflection
	newConfig := reflect.New(reflect.TypeOf(oldConfig).Elem()).Interface().(Config)

	v := cm.newViper(configName)
	if err := v.ReadInConfig(); err != nil {
		cm.mu.Unlock()
		fmt.Fprintf(os.Stderr, "reloadConfig: failed to read config %s: %v\n", configName, err)
		return
	}

	if err := v.Unmarshal(newConfig); err != nil {
		cm.mu.Unlock()
		fmt.Fprintf(os.Stderr, "reloadConfig: failed to unmarshal config %s: %v\n", configName, err)
		return
	}

	if err := cm.validate(configName, newConfig); err != nil {
		cm.mu.Unlock()
		fmt.Fprintf(os.Stderr, "reloadConfig: validation failed for config %s: %v\n", configName, err)
		return
	}

	for _, hook := range cm.hooks[configName] {
		if err := hook(oldConfig, newConfig); err != nil {
			cm.mu.Unlock()
			fmt.Fprintf(os.Stderr, "reloadConfig: hook failed for config %s: %v\n", configName, err)
			return
		}
	}

	cm.configs[configName] = newConfig
	listeners := append([]ConfigChangeListener(nil), cm.listeners...)
	cm.mu.Unlock()

	// listeners may call back into the manager
	for _, l := range listeners {
		if err := l.OnConfigChanged(configName, newConfig, oldConfig); err != nil {
			fmt.Fprintf(os.Stderr, "reloadConfig: listener rejected config %s: %v\n", configName, err)
		}
	}
}

// Close closes the configuration manager
func (cm *configManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	var firstErr error
	for name, watcher := range cm.watchers {
		if err := watcher.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(cm.watchers, name)
	}

	return firstErr
}
