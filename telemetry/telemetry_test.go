package telemetry

import (
	"context"
	"testing"
	"time"
)

func TestFlush(t *testing.T) {
	r := NewRegistry(nil)
	start := r.start
	bits := r.Counter("bits", Rate)
	tiles := r.Counter("tiles", Total)
	ratio := r.Counter("ratio", Average)
	if r.Counter("bits", Total) != bits {
		t.Fatal("Counter created a second counter for the same name")
	}

	bits.Add(8000)
	bits.Add(8000)
	tiles.Add(3)
	tiles.Add(4)
	ratio.Add(0.2)
	ratio.Add(0.4)

	readings := r.Flush(start.Add(2 * time.Second))
	want := []float64{8000, 7, 0.3}
	for i, reading := range readings {
		if diff := reading.Value - want[i]; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("%s = %v, want %v", reading.Name, reading.Value, want[i])
		}
	}
	if readings[0].Samples != 2 {
		t.Errorf("samples = %d", readings[0].Samples)
	}

	// The next window starts empty.
	for _, reading := range r.Flush(start.Add(3 * time.Second)) {
		if reading.Value != 0 || reading.Samples != 0 {
			t.Errorf("%s carried over: %+v", reading.Name, reading)
		}
	}
}

func TestRun(t *testing.T) {
	r := NewRegistry(nil)
	c := r.Counter("tiles", Total)
	c.Add(5)

	got := make(chan []Reading, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx, 10*time.Millisecond, func(readings []Reading) {
			select {
			case got <- readings:
			default:
			}
		})
		close(done)
	}()

	select {
	case readings := <-got:
		if len(readings) != 1 || readings[0].Value != 5 {
			t.Errorf("readings = %+v", readings)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no report")
	}
	cancel()
	<-done
}
