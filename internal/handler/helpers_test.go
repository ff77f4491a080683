package handler

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/mandate-engine/internal/transport"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	return fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
}

func performRequest(t *testing.T, app *fiber.App, method string, path string, body string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read %s %s body: %v", method, path, err)
	}
	return resp, payload
}

// fakeDatabase is a database/sql driver whose only working call is Ping.
type fakeDatabase struct {
	pingErr error
}

func openFakeDatabase(t *testing.T, pingErr error) *sql.DB {
	t.Helper()

	db := sql.OpenDB(fakeDatabase{pingErr: pingErr})
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func (f fakeDatabase) Connect(context.Context) (driver.Conn, error) { return f, nil }
func (f fakeDatabase) Driver() driver.Driver                         { return f }
func (f fakeDatabase) Open(string) (driver.Conn, error)              { return f, nil }
func (f fakeDatabase) Ping(context.Context) error                    { return f.pingErr }
func (f fakeDatabase) Close() error                                  { return nil }

func (fakeDatabase) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("fake database runs no statements")
}

func (fakeDatabase) Begin() (driver.Tx, error) {
	return nil, errors.New("fake database runs no transactions")
}

// newTestRedis returns a client backed by miniredis. A down server is closed before use.
func newTestRedis(t *testing.T, up bool) *redis.Client {
	t.Helper()

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	if !up {
		mr.Close()
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr, MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

type stubBroker struct {
	connected bool
}

func (b stubBroker) Connected() bool { return b.connected }
