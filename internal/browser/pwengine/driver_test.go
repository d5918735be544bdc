// internal/browser/pwengine/driver_test.go
package pwengine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/signupguard/internal/browser"
)

func TestCall(t *testing.T) {
	t.Run("returns the call result", func(t *testing.T) {
		err := call(t.Context(), func() error { return assert.AnError })
		assert.ErrorIs(t, err, assert.AnError)
	})

	t.Run("does not start when ctx is done", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		started := false
		err := call(ctx, func() error { started = true; return nil })
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, started)
	})

	t.Run("stops waiting at the deadline", func(t *testing.T) {
		release := make(chan struct{})
		defer close(release)
		ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
		defer cancel()

		start := time.Now()
		err := call(ctx, func() error { <-release; return nil })
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), time.Second)
	})
}

func TestCallValue_OrphanIsReleased(t *testing.T) {
	release := make(chan struct{})
	orphaned := make(chan int, 1)
	ctx, cancel := context.WithCancel(t.Context())

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	v, err := callValue(ctx, func() (int, error) {
		<-release
		return 42, nil
	}, func(v int) { orphaned <- v })
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, v)

	close(release)
	select {
	case got := <-orphaned:
		assert.Equal(t, 42, got, "the late acquisition is handed to the orphan hook")
	case <-time.After(time.Second):
		t.Fatal("orphaned value was never released")
	}
}

func TestCallValue_Success(t *testing.T) {
	v, err := callValue(t.Context(), func() (string, error) { return "chromium", nil }, nil)
	require.NoError(t, err)
	assert.Equal(t, "chromium", v)
}

func TestTranslate(t *testing.T) {
	assert.NoError(t, translate(nil))
	assert.Same(t, assert.AnError, translate(assert.AnError))

	err := translate(playwright.ErrTimeout)
	assert.ErrorIs(t, err, browser.ErrTimeout)
	assert.True(t, browser.IsTimeout(err))
	assert.False(t, errors.Is(translate(assert.AnError), browser.ErrTimeout))
}

func TestOptionMapping(t *testing.T) {
	assert.Nil(t, millis(0))
	assert.Equal(t, 1500.0, *millis(1500*time.Millisecond))

	assert.Equal(t, playwright.WaitUntilStateCommit, waitUntilState(browser.WaitCommit))
	assert.Equal(t, playwright.WaitUntilStateLoad, waitUntilState(browser.WaitLoad))
	assert.Equal(t, playwright.WaitUntilStateDomcontentloaded, waitUntilState(browser.WaitDOMContentLoaded))

	assert.Equal(t, playwright.LoadStateLoad, loadState(browser.LoadStateLoad))
	assert.Equal(t, playwright.LoadStateDomcontentloaded, loadState(browser.LoadStateDOMContentLoaded))
}

func TestStart_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	d := NewDriver(false, zap.NewNop())
	assert.Equal(t, "playwright", d.Name())
	_, err := d.Start(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

// slowPage answers Content only after release is closed.
type slowPage struct {
	playwright.Page
	release chan struct{}
}

func (p slowPage) Content() (string, error) {
	<-p.release
	return "<html></html>", nil
}

func (p slowPage) Evaluate(string, ...interface{}) (interface{}, error) {
	<-p.release
	return true, nil
}

// pwLocator lets slowLocator embed playwright.Locator without the field
// name hiding the interface's own Locator method.
type pwLocator = playwright.Locator

type slowLocator struct {
	pwLocator
	release chan struct{}
}

func (l slowLocator) Count() (int, error) {
	<-l.release
	return 1, nil
}

func TestReadsAbandonedAtDeadline(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	page := &Page{p: slowPage{release: release}}
	loc := &Locator{loc: slowLocator{release: release}, desc: "css=form"}

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Millisecond)
	defer cancel()

	content, err := page.Content(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, content)

	v, err := page.Evaluate(ctx, "document.readyState")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, v)

	n, err := loc.Count(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, n)
}

func TestReadsReturnValues(t *testing.T) {
	release := make(chan struct{})
	close(release)
	page := &Page{p: slowPage{release: release}}

	content, err := page.Content(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "<html></html>", content)

	n, err := (&Locator{loc: slowLocator{release: release}}).Count(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
