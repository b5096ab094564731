package logging

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestInit(t *testing.T) {
	tests := []struct {
		level, env string
		wantLevel  logrus.Level
		wantJSON   bool
	}{
		{"debug", "development", logrus.DebugLevel, false},
		{"WARN", "production", logrus.WarnLevel, true},
		{"chatty", "staging", logrus.InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.level+"/"+tt.env, func(t *testing.T) {
			log := Init(tt.level, tt.env)

			assert.Equal(t, tt.wantLevel, log.GetLevel())
			_, isJSON := log.Formatter.(*logrus.JSONFormatter)
			assert.Equal(t, tt.wantJSON, isJSON)
		})
	}
}
