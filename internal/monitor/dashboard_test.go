package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticFetcher(r Reading, err error) Fetcher {
	return func(context.Context) (Reading, error) { return r, err }
}

func sampleReading() Reading {
	return Reading{
		State:  "ready",
		Root:   "/srv/project",
		Uptime: 3720,
		Stores: []StoreReading{
			{Name: "main", Kind: "sqlite", Online: true},
			{Name: "archive", Kind: "qdrant", Online: false, LastError: "connection refused"},
		},
		Documents:        12,
		Shards:           4,
		QueriesProcessed: 30,
		Violations:       5,
		Fixed:            3,
		Failed:           1,
		Skipped:          1,
		At:               time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNewModel(t *testing.T) {
	m := NewModel("http://localhost:8080", staticFetcher(Reading{}, nil), 5*time.Second)
	assert.Equal(t, "http://localhost:8080", m.source)
	assert.Equal(t, 5*time.Second, m.interval)
	assert.False(t, m.quitting)
	assert.NotNil(t, m.Init())
}

func TestModel_Update_QuitKey(t *testing.T) {
	m := NewModel("", staticFetcher(Reading{}, nil), time.Second)

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	assert.True(t, updated.(Model).quitting)
	assert.NotNil(t, cmd)
	assert.Empty(t, updated.(Model).View())
}

func TestModel_Update_RefreshKey(t *testing.T) {
	m := NewModel("", staticFetcher(sampleReading(), nil), time.Second)

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}})
	assert.False(t, updated.(Model).quitting)
	require.NotNil(t, cmd)

	msg := cmd()
	r, ok := msg.(readingMsg)
	require.True(t, ok)
	assert.Equal(t, "ready", r.State)
}

func TestModel_FetchError(t *testing.T) {
	m := NewModel("http://localhost:8080", staticFetcher(Reading{}, errors.New("dial tcp: refused")), time.Second)

	msg := fetchReading(m.fetch)()
	updated, _ := m.Update(msg)
	got := updated.(Model)
	require.Error(t, got.err)

	view := got.View()
	assert.Contains(t, view, "Cannot reach the federated daemon")
	assert.Contains(t, view, "http://localhost:8080")
}

func TestModel_ReadingUpdatesHistory(t *testing.T) {
	m := NewModel("", nil, time.Second)
	first := sampleReading()

	updated, cmd := m.Update(readingMsg(first))
	assert.Nil(t, cmd)
	m = updated.(Model)
	assert.Equal(t, []float64{0}, m.queryRateHistory, "no rate without a previous reading")
	assert.Equal(t, []float64{1}, m.onlineHistory)

	second := first
	second.QueriesProcessed = 90
	second.At = first.At.Add(2 * time.Minute)
	updated, _ = m.Update(readingMsg(second))
	m = updated.(Model)
	assert.Equal(t, []float64{0, 30}, m.queryRateHistory)

	restarted := second
	restarted.QueriesProcessed = 2
	restarted.At = second.At.Add(time.Minute)
	updated, _ = m.Update(readingMsg(restarted))
	m = updated.(Model)
	assert.Equal(t, 0.0, m.queryRateHistory[2])
}

func TestModel_ErrorClearedByReading(t *testing.T) {
	m := NewModel("", nil, time.Second)
	updated, _ := m.Update(errMsg(errors.New("boom")))
	updated, _ = updated.(Model).Update(readingMsg(sampleReading()))
	assert.NoError(t, updated.(Model).err)
}

func TestModel_View(t *testing.T) {
	m := NewModel("", nil, time.Second)
	updated, _ := m.Update(readingMsg(sampleReading()))
	view := updated.(Model).View()

	for _, want := range []string{"Stores", "Search", "Rules", "main", "archive", "connection refused", "1/2", "DEGRADED"} {
		assert.Contains(t, view, want)
	}
}

func TestAppendToHistory(t *testing.T) {
	var h []float64
	for i := 0; i < historySize+5; i++ {
		h = appendToHistory(h, float64(i))
	}
	assert.Len(t, h, historySize)
	assert.Equal(t, float64(5), h[0])
	assert.Equal(t, float64(historySize+4), h[historySize-1])
}

func TestGetStatusBadge(t *testing.T) {
	r := sampleReading()
	assert.Contains(t, getStatusBadge(r), "DEGRADED")

	r.Stores[1].Online = true
	assert.Contains(t, getStatusBadge(r), "HEALTHY")

	r.Stores[0].Online, r.Stores[1].Online = false, false
	assert.Contains(t, getStatusBadge(r), "NO STORES")

	r.State = "initializing"
	assert.Contains(t, getStatusBadge(r), "initializing")
}

func TestCreateSparkline_Empty(t *testing.T) {
	assert.Contains(t, createSparkline(nil), "no data")
	assert.NotEmpty(t, createSparkline([]float64{1, 2, 3}))
}
