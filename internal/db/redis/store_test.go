package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/rueidis"
	"github.com/redis/rueidis/mock"
	"go.uber.org/mock/gomock"

	"github.com/kailas-cloud/quotagate/internal/db"
)

// --- client.go tests ---

func TestPing_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("PING")).
		Return(mock.Result(mock.RedisString("PONG")))

	s := NewStoreForTest(c)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPing_Error(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("PING")).
		Return(mock.ErrorResult(context.DeadlineExceeded))

	s := NewStoreForTest(c)
	if err := s.Ping(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewStore_RequiresAddrs(t *testing.T) {
	if _, err := NewStore(Config{}); err == nil {
		t.Fatal("expected error for empty addrs")
	}
}

func TestWaitForReady_RetriesUntilPong(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	gomock.InOrder(
		c.EXPECT().Do(gomock.Any(), mock.Match("PING")).Return(mock.ErrorResult(errors.New("LOADING"))),
		c.EXPECT().Do(gomock.Any(), mock.Match("PING")).Return(mock.Result(mock.RedisString("PONG"))),
	)

	if err := NewStoreForTest(c).WaitForReady(context.Background(), 5*time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWaitForReady_TimeoutKeepsLastError(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)
	loading := errors.New("LOADING")

	c.EXPECT().Do(gomock.Any(), mock.Match("PING")).Return(mock.ErrorResult(loading)).MinTimes(1)

	err := NewStoreForTest(c).WaitForReady(context.Background(), 120*time.Millisecond)
	if !errors.Is(err, loading) {
		t.Fatalf("expected LOADING in chain, got %v", err)
	}
}

// --- kv.go tests ---

func TestGet_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("GET", "quotagate:receipt:c1")).
		Return(mock.Result(mock.RedisBlobString(`{"cost":2}`)))

	s := NewStoreForTest(c)
	data, err := s.Get(context.Background(), "quotagate:receipt:c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != `{"cost":2}` {
		t.Errorf("unexpected data: %s", data)
	}
}

func TestGet_NotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("GET", "missing")).
		Return(mock.Result(mock.RedisNil()))

	s := NewStoreForTest(c)
	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, db.ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestGet_NetworkErrorIsWrapped(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("GET", "k")).
		Return(mock.ErrorResult(errors.New("connection refused")))

	s := NewStoreForTest(c)
	_, err := s.Get(context.Background(), "k")
	if errors.Is(err, db.ErrKeyNotFound) {
		t.Error("should not be ErrKeyNotFound for network errors")
	}
	var dbErr *db.Error
	if !errors.As(err, &dbErr) || dbErr.Op != db.OpGet {
		t.Errorf("expected *db.Error with op GET, got %v", err)
	}
}

func TestSetNX(t *testing.T) {
	tests := []struct {
		name      string
		result    rueidis.RedisResult
		wantWrite bool
		wantErr   bool
	}{
		{name: "written", result: mock.Result(mock.RedisString("OK")), wantWrite: true},
		{name: "key exists", result: mock.Result(mock.RedisNil())},
		{name: "readonly replica", result: mock.ErrorResult(errors.New("READONLY")), wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			c := mock.NewClient(ctrl)
			c.EXPECT().
				Do(gomock.Any(), mock.Match("SET", "quotagate:receipt:c1", "v", "NX", "EX", "3600")).
				Return(tc.result)

			wrote, err := NewStoreForTest(c).SetNX(context.Background(), "quotagate:receipt:c1", []byte("v"), time.Hour)
			if tc.wantErr {
				var dbErr *db.Error
				if !errors.As(err, &dbErr) || dbErr.Op != db.OpSetNX {
					t.Fatalf("expected *db.Error with op SET NX, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if wrote != tc.wantWrite {
				t.Errorf("wrote = %v, want %v", wrote, tc.wantWrite)
			}
		})
	}
}

func TestIncrWithTTL_Pipelined(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		DoMulti(gomock.Any(),
			mock.Match("INCRBY", "quotagate:usage:0xabc:daily:2026-05-14", "3"),
			mock.Match("EXPIRE", "quotagate:usage:0xabc:daily:2026-05-14", "172800", "NX"),
		).
		Return([]rueidis.RedisResult{
			mock.Result(mock.RedisInt64(8)),
			mock.Result(mock.RedisInt64(0)),
		})

	total, err := NewStoreForTest(c).IncrWithTTL(context.Background(),
		"quotagate:usage:0xabc:daily:2026-05-14", 3, 48*time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 8 {
		t.Errorf("total = %d, want 8", total)
	}
}

func TestIncrWithTTL_Errors(t *testing.T) {
	tests := []struct {
		name    string
		results []rueidis.RedisResult
		wantOp  string
	}{
		{
			name: "incr fails",
			results: []rueidis.RedisResult{
				mock.ErrorResult(errors.New("WRONGTYPE")),
				mock.Result(mock.RedisInt64(1)),
			},
			wantOp: db.OpIncrBy,
		},
		{
			name: "expire fails",
			results: []rueidis.RedisResult{
				mock.Result(mock.RedisInt64(1)),
				mock.ErrorResult(errors.New("connection reset")),
			},
			wantOp: db.OpExpire,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			c := mock.NewClient(ctrl)
			c.EXPECT().DoMulti(gomock.Any(), gomock.Any(), gomock.Any()).Return(tc.results)

			_, err := NewStoreForTest(c).IncrWithTTL(context.Background(), "counter", 1, time.Hour)
			var dbErr *db.Error
			if !errors.As(err, &dbErr) || dbErr.Op != tc.wantOp {
				t.Errorf("expected *db.Error with op %s, got %v", tc.wantOp, err)
			}
		})
	}
}

func TestIncrWithTTL_SubSecondTTL(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		DoMulti(gomock.Any(), mock.Match("INCRBY", "counter", "1"), mock.Match("EXPIRE", "counter", "1", "NX")).
		Return([]rueidis.RedisResult{mock.Result(mock.RedisInt64(1)), mock.Result(mock.RedisInt64(1))})

	if _, err := NewStoreForTest(c).IncrWithTTL(context.Background(), "counter", 1, 10*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
