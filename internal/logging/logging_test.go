package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	tests := []struct {
		mode      string
		debug     bool
		info      bool
		expectErr bool
	}{
		{mode: "", debug: false, info: false},
		{mode: "nop", debug: false, info: false},
		{mode: "development", debug: true, info: true},
		{mode: "DEV", debug: true, info: true},
		{mode: "production", debug: false, info: true},
		{mode: "json", debug: false, info: true},
		{mode: "verbose", expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			logger, err := New(tt.mode)
			if tt.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer logger.Sync()

			assert.Equal(t, tt.debug, logger.Core().Enabled(zap.DebugLevel))
			assert.Equal(t, tt.info, logger.Core().Enabled(zap.InfoLevel))
		})
	}
}
