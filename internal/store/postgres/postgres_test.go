package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/lobfeed/internal/domain"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/lob?sslmode=disable",
		DSN(ClientConfig{User: "u", Password: "p", Host: "db", Database: "lob"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
}

func TestMigrationFiles_Ordered(t *testing.T) {
	names, err := migrationFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{"001_signals.sql", "002_audit_log.sql"}, names)
}

type memSignals struct{ got []domain.Signal }

func (m *memSignals) InsertSignal(_ context.Context, s domain.Signal) error {
	m.got = append(m.got, s)
	return nil
}
func (m *memSignals) InsertExecution(context.Context, domain.Execution) error { return nil }
func (m *memSignals) ListRecent(context.Context, string, int) ([]domain.Signal, error) {
	return m.got, nil
}

type memAudit struct{ events []string }

func (m *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	m.events = append(m.events, event)
	return nil
}
func (m *memAudit) List(context.Context, int) ([]domain.AuditEntry, error) { return nil, nil }

func TestSink(t *testing.T) {
	sigs := &memSignals{}
	audit := &memAudit{}
	s := NewSink(sigs, audit)
	ctx := context.Background()

	require.NoError(t, s.Handle(ctx, domain.NewBookEvent(domain.BookSnapshot{Symbol: "BTC/USD"})))
	require.NoError(t, s.Handle(ctx, domain.NewSignalEvent(domain.Signal{ID: "a"})))
	require.NoError(t, s.Handle(ctx, domain.NewFatalEvent(errors.New("x"))))

	require.Len(t, sigs.got, 1)
	assert.Equal(t, "a", sigs.got[0].ID)
	assert.Equal(t, []string{"pipeline_fatal"}, audit.events)
}
