package logging

import (
	"strings"
	"testing"

	"go.viam.com/test"
)

func verifySetLevels(registry *Registry, expectedMatches map[string]string) bool {
	for name, level := range expectedMatches {
		logger, ok := registry.loggerNamed(name)
		if !ok || !strings.EqualFold(level, logger.GetLevel().String()) {
			return false
		}
	}
	return true
}

func createTestRegistry(loggerNames []string) *Registry {
	manager := newRegistry()
	for _, name := range loggerNames {
		manager.registerLogger(name, NewLogger(name))
	}
	return manager
}

func TestValidatePattern(t *testing.T) {
	t.Parallel()

	type testCfg struct {
		pattern string
		isValid bool
	}

	tests := []testCfg{
		// Valid patterns
		{"vio.estimator", true},
		{"vio.estimator.*", true},
		{"vio.*.optimizer", true},
		{"vio.*.*", true},
		{"*.optimizer", true},
		{"*", true},

		// Invalid patterns
		{"vio..estimator", false},
		{"vio.estimator.", false},
		{".vio.estimator", false},
		{"vio.estimator.**", false},
		{"vio.**.estimator", false},

		// Invalid patterns with special characters
		{"_.vio.estimator", false},
		{"-.vio", false},
		{"vio.-", false},
		{"vio.-.estimator", false},
		{"vio._.estimator", false},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.pattern, func(t *testing.T) {
			t.Parallel()
			test.That(t, validatePattern(tc.pattern), test.ShouldEqual, tc.isValid)
		})
	}
}

func TestUpdateLoggerRegistry(t *testing.T) {
	type testCfg struct {
		loggerConfig    []LoggerPatternConfig
		loggerNames     []string
		expectedMatches map[string]string
	}

	tests := []testCfg{
		{
			loggerConfig: []LoggerPatternConfig{
				{Pattern: "vio.pipeline", Level: "WARN"},
			},
			loggerNames: []string{
				"vio.pipeline",
				"vio.pipeline.depth",
				"vio.optimizer",
			},
			expectedMatches: map[string]string{
				"vio.pipeline": "WARN",
			},
		},
		{
			loggerConfig: []LoggerPatternConfig{
				{Pattern: "vio.*", Level: "DEBUG"},
			},
			loggerNames: []string{
				"vio.pipeline",
				"vio.estimator.window",
				"vio.pipeline.depth.rectify",
			},
			expectedMatches: map[string]string{
				"vio.pipeline":               "DEBUG",
				"vio.estimator.window":       "DEBUG",
				"vio.pipeline.depth.rectify": "DEBUG",
			},
		},
		{
			loggerConfig: []LoggerPatternConfig{
				{Pattern: "vio.*.window", Level: "ERROR"},
			},
			loggerNames: []string{
				"vio.estimator.window",
				"vio.test.window",
				"vio.estimator.marginalize",
			},
			expectedMatches: map[string]string{
				"vio.estimator.window": "ERROR",
				"vio.test.window":      "ERROR",
			},
		},
		{
			loggerConfig: []LoggerPatternConfig{
				{Pattern: "vio.*", Level: "DEBUG"},
				{Pattern: "vio.pipeline", Level: "WARN"},
			},
			loggerNames: []string{
				"vio.pipeline",
			},
			expectedMatches: map[string]string{
				"vio.pipeline": "WARN",
			},
		},
		{
			loggerConfig: []LoggerPatternConfig{
				{Pattern: "_.*.window", Level: "DEBUG"},
			},
			loggerNames: []string{
				"vio.estimator",
			},
			expectedMatches: map[string]string{},
		},
		{
			loggerConfig: []LoggerPatternConfig{
				{Pattern: "a.b", Level: "DEBUG"},
			},
			loggerNames: []string{
				"a.b.c",
			},
			expectedMatches: map[string]string{
				"a.b.c": "INFO",
			},
		},
	}

	for _, tc := range tests {
		testRegistry := createTestRegistry(tc.loggerNames)

		err := testRegistry.UpdateConfig(tc.loggerConfig, NewLogger("error-logger"))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, verifySetLevels(testRegistry, tc.expectedMatches), test.ShouldBeTrue)
	}
}
