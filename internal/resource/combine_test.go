package resource

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCombineLatest(t *testing.T) {
	first := errors.New("first")
	second := errors.New("second")

	tests := []struct {
		name    string
		in      []Resource[int]
		status  Status
		wantErr error
		want    []int
	}{
		{name: "empty", in: nil, status: StatusSuccess, want: []int{}},
		{name: "all success", in: []Resource[int]{Success(1), Success(2)}, status: StatusSuccess, want: []int{1, 2}},
		{name: "loading wins over success", in: []Resource[int]{Success(1), Loading[int]()}, status: StatusLoading},
		{name: "error wins over loading", in: []Resource[int]{Loading[int](), Error[int](first)}, status: StatusError, wantErr: first},
		{name: "first error by position", in: []Resource[int]{Success(1), Error[int](first), Error[int](second)}, status: StatusError, wantErr: first},
		{name: "error wins over success", in: []Resource[int]{Success(1), Success(2), Error[int](second)}, status: StatusError, wantErr: second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CombineLatest(tt.in...)
			assert.Equal(t, tt.status, got.Status)
			if tt.wantErr != nil {
				assert.ErrorIs(t, got.Err, tt.wantErr)
			}
			if tt.want != nil {
				assert.Equal(t, tt.want, got.Data)
			}
		})
	}
}

func TestCombineLatest_Stale(t *testing.T) {
	older := time.Unix(100, 0)
	newer := time.Unix(200, 0)

	got := CombineLatest(StaleSuccess(1, newer), Success(2), StaleSuccess(3, older))
	require.True(t, got.IsSuccess())
	assert.True(t, got.Stale)
	assert.Equal(t, older, got.SyncedAt)
}

func TestCombine_Stream(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	a := make(chan Resource[int])
	b := make(chan Resource[int])
	out := Combine(ctx, a, b)

	assert.True(t, (<-out).IsLoading())

	a <- Success(1)
	assert.True(t, (<-out).IsLoading(), "b has not reported yet")

	b <- Success(2)
	got := <-out
	require.True(t, got.IsSuccess())
	assert.Equal(t, []int{1, 2}, got.Data)

	b <- Error[int](errors.New("b failed"))
	got = <-out
	assert.True(t, got.IsError())
	assert.Equal(t, "b failed", got.Message)

	close(a)
	close(b)
	for range out {
	}
}

func TestCombine_NoStreams(t *testing.T) {
	out := Combine[int](context.Background())
	got := <-out
	assert.True(t, got.IsSuccess())
	assert.Empty(t, got.Data)
}
