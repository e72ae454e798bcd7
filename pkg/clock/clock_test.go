package clock

import (
	"testing"
	"time"
)

func TestRealClock_Now_WhenCalled_ThenReturnsCurrentTime(t *testing.T) {
	// Arrange
	realClock := RealClock{}
	beforeCall := time.Now()

	// Act
	result := realClock.Now()

	// Assert
	afterCall := time.Now()
	if result.Before(beforeCall) || result.After(afterCall) {
		t.Errorf("expected time between %v and %v, got %v", beforeCall, afterCall, result)
	}
}

func TestStepClock_Now_WhenCalledRepeatedly_ThenAdvancesByStep(t *testing.T) {
	// Arrange
	start := time.Date(2025, 11, 6, 10, 30, 0, 0, time.UTC)
	stepClock := NewStep(start, 250*time.Millisecond)

	// Act
	first := stepClock.Now()
	second := stepClock.Now()
	third := stepClock.Now()

	// Assert
	if !first.Equal(start) {
		t.Errorf("expected first call to return %v, got %v", start, first)
	}
	if got := second.Sub(first); got != 250*time.Millisecond {
		t.Errorf("expected a 250ms step, got %v", got)
	}
	if got := third.Sub(start); got != 500*time.Millisecond {
		t.Errorf("expected 500ms after two steps, got %v", got)
	}
}

func TestStepClock_Now_WhenZeroStep_ThenReturnsSameTime(t *testing.T) {
	// Arrange
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	stepClock := NewStep(start, 0)

	// Act
	result1 := stepClock.Now()
	result2 := stepClock.Now()

	// Assert
	if !result1.Equal(result2) {
		t.Errorf("expected both calls to return same time, got %v and %v", result1, result2)
	}
}
