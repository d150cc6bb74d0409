package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/shouni/go-scholar-sheet/pkg/extract"
	"github.com/shouni/go-scholar-sheet/pkg/types"
)

const baseURL = "https://scholar.google.com/scholar?as_ylo=2024&q=Diffusion&hl=en&as_sdt=0,5"

// MockFetcher は extract.Fetcher のモックです。
type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) FetchBytes(ctx context.Context, url string) ([]byte, error) {
	args := m.Called(ctx, url)
	if b, ok := args.Get(0).([]byte); ok {
		return b, args.Error(1)
	}
	return nil, args.Error(1)
}

// recordingSink は Append された (offset, record) を順に保持します。
type recordingSink struct {
	offsets []int
	records []types.Record
	failAt  int
}

func newSink() *recordingSink {
	return &recordingSink{failAt: -1}
}

func (s *recordingSink) Append(offset int, record types.Record) error {
	if offset == s.failAt {
		return errors.New("disk full")
	}
	s.offsets = append(s.offsets, offset)
	s.records = append(s.records, record)
	return nil
}

func noSleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

func resultPage(n int, prefix string) []byte {
	var b strings.Builder
	b.WriteString(`<html><body><div id="gs_res_ccl_mid">`)
	for i := range n {
		fmt.Fprintf(&b, `<div class="gs_r gs_or gs_scl"><h3 class="gs_rt"><a href="https://example.org/%s/%d">%s paper %d</a></h3></div>`, prefix, i, prefix, i)
	}
	b.WriteString(`</div></body></html>`)
	return []byte(b.String())
}

var captchaPage = []byte(`<html><body><div id="gs_captcha_ccl">Please show you're not a robot</div></body></html>`)

func TestPageURL(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		offset   int
		expected string
	}{
		{
			name:     "replace existing start",
			base:     "https://scholar.google.com/scholar?start=5&q=Diffusion&hl=en",
			offset:   15,
			expected: "https://scholar.google.com/scholar?start=15&q=Diffusion&hl=en",
		},
		{
			name:     "replace start in the middle",
			base:     "https://scholar.google.com/scholar?q=Diffusion&start=5&as_sdt=0,5",
			offset:   15,
			expected: "https://scholar.google.com/scholar?q=Diffusion&start=15&as_sdt=0,5",
		},
		{
			name:     "append when start is absent",
			base:     baseURL,
			offset:   10,
			expected: baseURL + "&start=10",
		},
		{
			name:     "similar parameter names are untouched",
			base:     "https://scholar.google.com/scholar?as_ystart=2020&q=x",
			offset:   20,
			expected: "https://scholar.google.com/scholar?as_ystart=2020&q=x&start=20",
		},
		{
			name:     "no query string",
			base:     "https://scholar.google.com/scholar",
			offset:   0,
			expected: "https://scholar.google.com/scholar?start=0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, PageURL(tt.base, tt.offset))
		})
	}
}

func TestPageOffsets(t *testing.T) {
	assert.Equal(t, []int{0}, PageOffsets(0, 10, 10))
	assert.Equal(t, []int{0, 10, 20}, PageOffsets(0, 25, 10))
	assert.Equal(t, []int{7}, PageOffsets(7, 10, 10))
	assert.Nil(t, PageOffsets(10, 10, 10))
	assert.Nil(t, PageOffsets(0, 0, 10))
	assert.Nil(t, PageOffsets(0, 10, 0))
}

func TestNew(t *testing.T) {
	t.Run("nil fetcher", func(t *testing.T) {
		_, err := New(nil, newSink(), Config{BaseURL: baseURL})
		assert.Error(t, err)
	})
	t.Run("nil sink", func(t *testing.T) {
		_, err := New(new(MockFetcher), nil, Config{BaseURL: baseURL})
		assert.Error(t, err)
	})
	t.Run("negative start index", func(t *testing.T) {
		_, err := New(new(MockFetcher), newSink(), Config{BaseURL: baseURL, StartIndex: -1})
		assert.Error(t, err)
	})
	t.Run("defaults", func(t *testing.T) {
		s, err := New(new(MockFetcher), newSink(), Config{BaseURL: baseURL, Total: 30})
		require.NoError(t, err)
		assert.Equal(t, DefaultPageSize, s.cfg.PageSize)
		assert.Equal(t, StateStopped, s.State())
		assert.Equal(t, []int{0, 10, 20}, s.PageOffsets())
	})
}

func TestRun_SinglePageExhausted(t *testing.T) {
	fetcher := new(MockFetcher)
	fetcher.On("FetchBytes", mock.Anything, baseURL+"&start=0").Return(resultPage(8, "p0"), nil).Once()
	sink := newSink()
	var out bytes.Buffer

	s, err := New(fetcher, sink, Config{BaseURL: baseURL, Total: 10, PageSize: 10},
		WithOutput(&out), WithSleepFunc(noSleep))
	require.NoError(t, err)

	report := s.Run(context.Background())

	assert.Equal(t, StateStopped, report.State)
	assert.Equal(t, ReasonExhausted, report.Reason)
	assert.NoError(t, report.Err)
	assert.Equal(t, -1, report.FailedOffset)
	assert.Equal(t, 8, report.RecordsWritten)
	assert.Equal(t, 8, report.Offset)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, sink.offsets)
	require.Len(t, report.Pages, 1)
	assert.Equal(t, 8, report.Pages[0].Records)

	assert.Contains(t, out.String(), baseURL+"&start=0")
	assert.Contains(t, out.String(), "p0 paper 7")
	assert.NotContains(t, out.String(), "resume at")
	fetcher.AssertNumberOfCalls(t, "FetchBytes", 1)
}

func TestRun_AbortOnStructuralError(t *testing.T) {
	fetcher := new(MockFetcher)
	fetcher.On("FetchBytes", mock.Anything, baseURL+"&start=0").Return(resultPage(10, "p0"), nil).Once()
	fetcher.On("FetchBytes", mock.Anything, baseURL+"&start=10").Return(captchaPage, nil).Once()
	sink := newSink()
	var out bytes.Buffer

	s, err := New(fetcher, sink, Config{BaseURL: baseURL, Total: 30, PageSize: 10},
		WithOutput(&out), WithSleepFunc(noSleep))
	require.NoError(t, err)

	report := s.Run(context.Background())

	assert.Equal(t, StateStopped, report.State)
	assert.Equal(t, ReasonAborted, report.Reason)
	assert.Equal(t, 10, report.FailedOffset)
	assert.False(t, report.PartialPage)
	assert.ErrorIs(t, report.Err, ErrAborted)
	assert.ErrorIs(t, report.Err, extract.ErrBlockedPage)
	assert.Equal(t, 10, report.RecordsWritten)
	assert.Len(t, sink.records, 10)
	assert.Contains(t, out.String(), "resume at offset=10")

	// offset=20 のページは取得されない
	fetcher.AssertNumberOfCalls(t, "FetchBytes", 2)
}

func TestRun_AbortOnFetchError(t *testing.T) {
	fetcher := new(MockFetcher)
	fetcher.On("FetchBytes", mock.Anything, mock.Anything).Return(nil, errors.New("tls: handshake failure")).Once()
	sink := newSink()
	var out bytes.Buffer

	s, err := New(fetcher, sink, Config{BaseURL: baseURL, Total: 20},
		WithOutput(&out), WithSleepFunc(noSleep))
	require.NoError(t, err)

	report := s.Run(context.Background())

	assert.Equal(t, ReasonAborted, report.Reason)
	assert.Equal(t, 0, report.FailedOffset)
	assert.Empty(t, sink.records)
	assert.Contains(t, report.Err.Error(), "handshake failure")
	assert.Contains(t, out.String(), "resume at offset=0")
	fetcher.AssertNumberOfCalls(t, "FetchBytes", 1)
}

func TestRun_PartialPageIsKept(t *testing.T) {
	page := []byte(`<html><body><div id="gs_res_ccl_mid">
<div class="gs_r gs_or gs_scl"><h3><a href="https://example.org/1">First</a></h3></div>
<div class="gs_r gs_or gs_scl"><div>no heading</div></div>
<div class="gs_r gs_or gs_scl"><h3><a href="https://example.org/3">Third</a></h3></div>
</div></body></html>`)
	fetcher := new(MockFetcher)
	fetcher.On("FetchBytes", mock.Anything, mock.Anything).Return(page, nil).Once()
	sink := newSink()

	s, err := New(fetcher, sink, Config{BaseURL: baseURL, Total: 10},
		WithOutput(&bytes.Buffer{}), WithSleepFunc(noSleep))
	require.NoError(t, err)

	report := s.Run(context.Background())

	assert.Equal(t, ReasonAborted, report.Reason)
	assert.True(t, report.PartialPage)
	assert.ErrorIs(t, report.Err, extract.ErrMissingElement)
	require.Len(t, sink.records, 1)
	assert.Equal(t, "First", sink.records[0].Title)
	assert.Equal(t, 1, report.Offset)
}

func TestRun_SinkErrorAborts(t *testing.T) {
	fetcher := new(MockFetcher)
	fetcher.On("FetchBytes", mock.Anything, mock.Anything).Return(resultPage(5, "p0"), nil).Once()
	sink := newSink()
	sink.failAt = 2

	s, err := New(fetcher, sink, Config{BaseURL: baseURL, Total: 10},
		WithOutput(&bytes.Buffer{}), WithSleepFunc(noSleep))
	require.NoError(t, err)

	report := s.Run(context.Background())

	assert.Equal(t, ReasonAborted, report.Reason)
	assert.Len(t, sink.records, 2)
	assert.Contains(t, report.Err.Error(), "disk full")
}

func TestRun_ResumeFromOffset(t *testing.T) {
	fetcher := new(MockFetcher)
	fetcher.On("FetchBytes", mock.Anything, baseURL+"&start=7").Return(resultPage(10, "p7"), nil).Once()
	sink := newSink()

	s, err := New(fetcher, sink, Config{BaseURL: baseURL, StartIndex: 7, Total: 17},
		WithOutput(&bytes.Buffer{}), WithSleepFunc(noSleep))
	require.NoError(t, err)

	report := s.Run(context.Background())

	assert.Equal(t, ReasonExhausted, report.Reason)
	assert.Equal(t, []int{7, 8, 9, 10, 11, 12, 13, 14, 15, 16}, sink.offsets)
	assert.Equal(t, 17, report.Offset)
}

func TestRun_CitationAndMalformedRecords(t *testing.T) {
	page := []byte(`<html><body><div id="gs_res_ccl_mid">
<div class="gs_r gs_or gs_scl"><h3><span class="gs_ctu"><span class="gs_ct1">[CITATION]</span><span class="gs_ct2">[C]</span></span> <span>Cited only</span></h3></div>
<div class="gs_r gs_or gs_scl"><h3><a href="https://example.org/x"></a></h3></div>
</div></body></html>`)
	fetcher := new(MockFetcher)
	fetcher.On("FetchBytes", mock.Anything, mock.Anything).Return(page, nil).Once()
	sink := newSink()

	s, err := New(fetcher, sink, Config{BaseURL: baseURL, Total: 10},
		WithOutput(&bytes.Buffer{}), WithSleepFunc(noSleep))
	require.NoError(t, err)

	report := s.Run(context.Background())

	assert.Equal(t, ReasonExhausted, report.Reason)
	assert.Equal(t, 1, report.Malformed)
	require.Len(t, sink.records, 2)
	assert.Equal(t, types.KindCitation, sink.records[0].Kind)
	assert.False(t, sink.records[0].HasURL())
	assert.Equal(t, types.KindMalformed, sink.records[1].Kind)
}

func TestRun_SleepsBeforeEveryRequest(t *testing.T) {
	fetcher := new(MockFetcher)
	fetcher.On("FetchBytes", mock.Anything, mock.Anything).Return(resultPage(10, "p"), nil)

	var delays []time.Duration
	sleep := func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	s, err := New(fetcher, newSink(), Config{BaseURL: baseURL, Total: 30, Delay: 3 * time.Second},
		WithOutput(&bytes.Buffer{}), WithSleepFunc(sleep))
	require.NoError(t, err)

	report := s.Run(context.Background())

	assert.Equal(t, ReasonExhausted, report.Reason)
	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second, 3 * time.Second}, delays)
	fetcher.AssertNumberOfCalls(t, "FetchBytes", 3)
}

func TestRun_CanceledContextAbortsBeforeFetch(t *testing.T) {
	fetcher := new(MockFetcher)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	s, err := New(fetcher, newSink(), Config{BaseURL: baseURL, Total: 10, Delay: time.Hour},
		WithOutput(&out))
	require.NoError(t, err)

	report := s.Run(ctx)

	assert.Equal(t, ReasonAborted, report.Reason)
	assert.ErrorIs(t, report.Err, context.Canceled)
	assert.Contains(t, out.String(), "resume at offset=0")
	fetcher.AssertNotCalled(t, "FetchBytes", mock.Anything, mock.Anything)
}

func TestRun_WritesDebugPage(t *testing.T) {
	debugPath := filepath.Join(t.TempDir(), "debug_web_page.html")
	body := resultPage(2, "dbg")

	fetcher := new(MockFetcher)
	fetcher.On("FetchBytes", mock.Anything, mock.Anything).Return(body, nil).Once()

	s, err := New(fetcher, newSink(), Config{BaseURL: baseURL, Total: 10, DebugPagePath: debugPath},
		WithOutput(&bytes.Buffer{}), WithSleepFunc(noSleep))
	require.NoError(t, err)

	s.Run(context.Background())

	written, err := os.ReadFile(debugPath)
	require.NoError(t, err)
	assert.Equal(t, body, written)
}
