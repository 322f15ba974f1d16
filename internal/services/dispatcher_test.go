package services

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"assetdesk/internal/config"
	"assetdesk/internal/models"
)

func TestDispatchRunsTask(t *testing.T) {
	db := newTestDB(t)
	d := NewDispatcher(db, newTestLogger(), config.AutomationConfig{
		DispatchRetries: 3,
		DispatchBackoff: time.Millisecond,
	})

	var runs int32
	d.Dispatch("noop", 1, func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	})
	d.Wait()

	if got := atomic.LoadInt32(&runs); got != 1 {
		t.Fatalf("task ran %d times, want 1", got)
	}

	var letters int64
	if err := db.Model(&models.DeadLetter{}).Count(&letters).Error; err != nil {
		t.Fatalf("count dead letters: %v", err)
	}
	if letters != 0 {
		t.Fatalf("successful task must not dead-letter, got %d", letters)
	}
}

func TestDispatchRetriesBeforeDeadLetter(t *testing.T) {
	db := newTestDB(t)
	d := NewDispatcher(db, newTestLogger(), config.AutomationConfig{
		DispatchRetries: 3,
		DispatchBackoff: time.Millisecond,
	})

	var runs int32
	d.Dispatch("flaky", 42, func(ctx context.Context) error {
		if atomic.AddInt32(&runs, 1) < 3 {
			return fmt.Errorf("transient failure")
		}
		return nil
	})
	d.Wait()

	if got := atomic.LoadInt32(&runs); got != 3 {
		t.Fatalf("task ran %d times, want 3 (recovered on final retry)", got)
	}

	var letters int64
	if err := db.Model(&models.DeadLetter{}).Count(&letters).Error; err != nil {
		t.Fatalf("count dead letters: %v", err)
	}
	if letters != 0 {
		t.Fatalf("recovered task must not dead-letter, got %d", letters)
	}
}

func TestDispatchExhaustedRetriesDeadLetters(t *testing.T) {
	db := newTestDB(t)
	d := NewDispatcher(db, newTestLogger(), config.AutomationConfig{
		DispatchRetries: 2,
		DispatchBackoff: time.Millisecond,
	})

	d.Dispatch("doomed", 7, func(ctx context.Context) error {
		return fmt.Errorf("permanent failure")
	})
	d.Wait()

	var letter models.DeadLetter
	if err := db.First(&letter).Error; err != nil {
		t.Fatalf("load dead letter: %v", err)
	}
	if letter.Task != "doomed" || letter.EntityID != 7 {
		t.Fatalf("dead letter = %+v", letter)
	}
	if letter.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", letter.Attempts)
	}
	if letter.Error == "" {
		t.Fatal("dead letter must carry the final error")
	}
}

func TestDispatchRecoversFromPanic(t *testing.T) {
	db := newTestDB(t)
	d := NewDispatcher(db, newTestLogger(), config.AutomationConfig{
		DispatchRetries: 2,
		DispatchBackoff: time.Millisecond,
	})

	d.Dispatch("panicky", 9, func(ctx context.Context) error {
		panic("boom")
	})
	d.Wait()

	var letter models.DeadLetter
	if err := db.First(&letter).Error; err != nil {
		t.Fatalf("panicking task must dead-letter: %v", err)
	}
	if letter.Task != "panicky" {
		t.Fatalf("dead letter task = %s, want panicky", letter.Task)
	}
}
