package timezone

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager(t *testing.T) {
	tests := []struct {
		name      string
		timezone  string
		want      string
		expectErr bool
	}{
		{"valid timezone UTC", "UTC", "UTC", false},
		{"valid timezone Europe/Berlin", "Europe/Berlin", "Europe/Berlin", false},
		{"invalid timezone", "Invalid/Timezone", "", true},
		{"empty timezone defaults to UTC", "", "UTC", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager, err := NewManager(tt.timezone)

			if tt.expectErr {
				assert.Error(t, err)
				assert.Nil(t, manager)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, manager.GetTimezone())
			assert.Equal(t, tt.want, manager.GetLocation().String())
		})
	}
}

func TestManager_Wall(t *testing.T) {
	manager, err := NewManager("Europe/Berlin")
	require.NoError(t, err)

	stored := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	wall := manager.Wall(stored)

	assert.Equal(t, 9, wall.Hour())
	assert.Equal(t, 30, wall.Minute())
	assert.Equal(t, "+0100", wall.Format("-0700"))
	assert.Equal(t, "2024-03-15T09:30:00.000+0100", wall.Format("2006-01-02T15:04:05.000-0700"))

	// summer time
	summer := manager.Wall(time.Date(2024, 7, 1, 9, 30, 0, 0, time.UTC))
	assert.Equal(t, "+0200", summer.Format("-0700"))
}

func TestManager_StripIsInverseOfWall(t *testing.T) {
	manager, err := NewManager("Europe/Berlin")
	require.NoError(t, err)

	stored := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	assert.True(t, stored.Equal(manager.Strip(manager.Wall(stored))))

	// an instant from another zone is stored with its Berlin clock reading
	instant := time.Date(2024, 3, 15, 8, 30, 0, 0, time.UTC)
	assert.Equal(t, stored, manager.Strip(instant))
}

func TestManager_ZeroTime(t *testing.T) {
	manager, err := NewManager("Europe/Berlin")
	require.NoError(t, err)

	assert.True(t, manager.Wall(time.Time{}).IsZero())
	assert.True(t, manager.Strip(time.Time{}).IsZero())
}

func TestIsValidTimezone(t *testing.T) {
	assert.True(t, IsValidTimezone("Europe/Berlin"))
	assert.False(t, IsValidTimezone("Mars/Olympus"))
}
