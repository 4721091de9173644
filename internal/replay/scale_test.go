package replay

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeScale(t *testing.T) {
	tests := []struct {
		name    string
		host    Size
		surface Size
		want    float64
		ok      bool
	}{
		{
			name:    "поверхность больше хоста, ограничение по ширине",
			host:    Size{Width: 800, Height: 600},
			surface: Size{Width: 1280, Height: 720},
			want:    0.625,
			ok:      true,
		},
		{
			name:    "уменьшение хоста пересчитывает коэффициент",
			host:    Size{Width: 400, Height: 300},
			surface: Size{Width: 1280, Height: 720},
			want:    0.3125,
			ok:      true,
		},
		{
			name:    "маленькая запись не растягивается сверх 1",
			host:    Size{Width: 1920, Height: 1080},
			surface: Size{Width: 640, Height: 480},
			want:    1,
			ok:      true,
		},
		{
			name:    "ограничение по высоте",
			host:    Size{Width: 2000, Height: 360},
			surface: Size{Width: 1280, Height: 720},
			want:    0.5,
			ok:      true,
		},
		{
			name:    "нулевая ширина хоста — вырожденная геометрия",
			host:    Size{Width: 0, Height: 600},
			surface: Size{Width: 1280, Height: 720},
			ok:      false,
		},
		{
			name:    "нулевая высота поверхности — вырожденная геометрия",
			host:    Size{Width: 800, Height: 600},
			surface: Size{Width: 1280, Height: 0},
			ok:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scale, ok := ComputeScale(tt.host, tt.surface)
			require.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.want, scale, 1e-9)
			}
		})
	}
}

func TestScaler_RecomputesOnResize(t *testing.T) {
	var mu sync.Mutex
	var applied []float64

	s := NewScaler(
		Size{Width: 800, Height: 600},
		Size{Width: 1280, Height: 720},
		func(scale float64) {
			mu.Lock()
			applied = append(applied, scale)
			mu.Unlock()
		},
	)
	defer s.Stop()

	// Отложенный первичный пересчёт
	assert.Eventually(t, func() bool {
		return s.Scale() == 0.625
	}, time.Second, 5*time.Millisecond)

	// Resize хоста 800x600 -> 400x300 при поверхности 1280x720
	s.SetHostSize(Size{Width: 400, Height: 300})
	assert.InDelta(t, 0.3125, s.Scale(), 1e-9)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, applied)
	assert.InDelta(t, 0.3125, applied[len(applied)-1], 1e-9)
}

func TestScaler_DegenerateSizesSkipped(t *testing.T) {
	s := NewScaler(Size{}, Size{}, nil)
	defer s.Stop()

	// Нет валидных размеров — коэффициент остаётся начальным
	s.SetHostSize(Size{Width: 800, Height: 0})
	assert.Equal(t, 1.0, s.Scale())

	// Появились оба размера — пересчёт происходит
	s.SetSurfaceSize(Size{Width: 1280, Height: 720})
	s.SetHostSize(Size{Width: 800, Height: 600})
	assert.InDelta(t, 0.625, s.Scale(), 1e-9)
}

func TestScaler_StopPreventsLateApply(t *testing.T) {
	var mu sync.Mutex
	count := 0

	s := NewScaler(Size{Width: 800, Height: 600}, Size{Width: 1280, Height: 720}, func(float64) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	s.Stop()

	// Отложенный пересчёт отменён, обновления после Stop игнорируются
	s.SetHostSize(Size{Width: 400, Height: 300})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, count)
}
