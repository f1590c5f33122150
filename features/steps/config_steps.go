//go:build integration

package steps

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"audio-extract-service/cmd"
	"audio-extract-service/infrastructure/config"

	"github.com/cucumber/godog"
)

type configContext struct {
	tempDir    string
	configPath string
	env        map[string]string
	cfg        *config.Config
	loadErr    error
	setErr     error
	output     bytes.Buffer
}

// SharedConfigContext is reset before each scenario via Before hook
var SharedConfigContext = &configContext{}

func InitializeConfigScenario(ctx *godog.ScenarioContext) {
	testCtx := SharedConfigContext

	ctx.Before(func(c context.Context, sc *godog.Scenario) (context.Context, error) {
		tempDir, err := os.MkdirTemp("", "config-test-*")
		if err != nil {
			return c, err
		}
		*testCtx = configContext{
			tempDir:    tempDir,
			configPath: filepath.Join(tempDir, "config.yaml"),
			env:        map[string]string{},
		}
		return c, nil
	})

	ctx.After(func(c context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		if testCtx.tempDir != "" {
			os.RemoveAll(testCtx.tempDir)
		}
		return c, nil
	})

	ctx.Step(`^a configuration file containing:$`, testCtx.aConfigurationFileContaining)
	ctx.Step(`^no configuration file exists$`, testCtx.noConfigurationFileExists)
	ctx.Step(`^the environment variable "([^"]*)" is "([^"]*)"$`, testCtx.theEnvironmentVariableIs)
	ctx.Step(`^I load the configuration$`, testCtx.iLoadTheConfiguration)
	ctx.Step(`^the setting "([^"]*)" should be "([^"]*)"$`, testCtx.theSettingShouldBe)
	ctx.Step(`^the configuration should be rejected mentioning "([^"]*)"$`, testCtx.theConfigurationShouldBeRejectedMentioning)
	ctx.Step(`^I set "([^"]*)" to "([^"]*)"$`, testCtx.iSetTo)
	ctx.Step(`^the file should contain setting "([^"]*)" with value "([^"]*)"$`, testCtx.theFileShouldContainSettingWithValue)
	ctx.Step(`^the set command should fail$`, testCtx.theSetCommandShouldFail)
}

func (c *configContext) aConfigurationFileContaining(body *godog.DocString) error {
	return os.WriteFile(c.configPath, []byte(body.Content), 0644)
}

func (c *configContext) noConfigurationFileExists() error {
	if _, err := os.Stat(c.configPath); err == nil {
		return os.Remove(c.configPath)
	}
	return nil
}

func (c *configContext) theEnvironmentVariableIs(name, value string) error {
	c.env[name] = value
	return nil
}

func (c *configContext) iLoadTheConfiguration() error {
	cfg, err := config.LoadOrDefault(c.configPath)
	if err != nil {
		c.loadErr = err
		return nil
	}
	cfg.ApplyEnv(func(key string) string { return c.env[key] })
	c.cfg = cfg
	c.loadErr = cfg.Validate()
	return nil
}

func (c *configContext) theSettingShouldBe(key, expected string) error {
	if c.loadErr != nil {
		return fmt.Errorf("configuration failed to load: %w", c.loadErr)
	}
	got, err := config.NewConfigManager(c.cfg, c.configPath).Get(key)
	if err != nil {
		return err
	}
	if got != expected {
		return fmt.Errorf("expected %s to be %q, got %q", key, expected, got)
	}
	return nil
}

func (c *configContext) theConfigurationShouldBeRejectedMentioning(fragment string) error {
	if c.loadErr == nil {
		return fmt.Errorf("expected configuration to be rejected")
	}
	if !errors.Is(c.loadErr, config.ErrInvalidConfig) {
		return fmt.Errorf("expected ErrInvalidConfig, got %v", c.loadErr)
	}
	if !strings.Contains(c.loadErr.Error(), fragment) {
		return fmt.Errorf("expected error to mention %q, got %v", fragment, c.loadErr)
	}
	return nil
}

func (c *configContext) iSetTo(key, value string) error {
	cfg, err := config.LoadOrDefault(c.configPath)
	if err != nil {
		return err
	}
	c.setErr = cmd.RunConfigSetWithDependencies(cfg, c.configPath, key, value, &c.output)
	return nil
}

func (c *configContext) theFileShouldContainSettingWithValue(key, expected string) error {
	if c.setErr != nil {
		return fmt.Errorf("set command failed: %w", c.setErr)
	}
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	got, err := config.NewConfigManager(cfg, c.configPath).Get(key)
	if err != nil {
		return err
	}
	if got != expected {
		return fmt.Errorf("expected %s in file to be %q, got %q", key, expected, got)
	}
	return nil
}

func (c *configContext) theSetCommandShouldFail() error {
	if c.setErr == nil {
		return fmt.Errorf("expected set command to fail, output: %s", c.output.String())
	}
	return nil
}
