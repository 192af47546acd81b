package triage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/coverage-intel/internal/cost"
	"github.com/sells-group/coverage-intel/internal/judge"
	"github.com/sells-group/coverage-intel/internal/model"
	"github.com/sells-group/coverage-intel/internal/registry"
)

// mockJudge implements judge.Service for testing.
type mockJudge struct {
	mock.Mock
}

func (m *mockJudge) Complete(ctx context.Context, req judge.Request) (*judge.Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*judge.Response), args.Error(1)
}

// scriptedJudge answers by prompt kind and records every request.
type scriptedJudge struct {
	mu      sync.Mutex
	calls   []judge.Request
	respond func(req judge.Request) (*judge.Response, error)
}

func (s *scriptedJudge) Complete(_ context.Context, req judge.Request) (*judge.Response, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.mu.Unlock()
	return s.respond(req)
}

func (s *scriptedJudge) requests() []judge.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]judge.Request(nil), s.calls...)
}

func reply(content string) *judge.Response {
	return &judge.Response{Content: content, Model: "claude-test", Usage: cost.Usage{InputTokens: 100, OutputTokens: 20}}
}

// batchIDs recovers the discovery ids from a batch prompt.
func batchIDs(t *testing.T, prompt string) []string {
	t.Helper()
	var entries []batchEntry
	require.NoError(t, json.Unmarshal([]byte(prompt[strings.Index(prompt, "\n")+1:]), &entries))
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}

func batchReply(t *testing.T, req judge.Request, category, relevance string) *judge.Response {
	t.Helper()
	var out []map[string]any
	for _, id := range batchIDs(t, req.UserPrompt) {
		out = append(out, map[string]any{"id": id, "category": category, "relevance": relevance, "confidence": 0.8})
	}
	raw, err := json.Marshal(out)
	require.NoError(t, err)
	return reply("```json\n" + string(raw) + "\n```")
}

func newOrchestrator(t *testing.T, svc judge.Service) *Orchestrator {
	t.Helper()
	reg, err := registry.Default()
	require.NoError(t, err)
	o := New(svc, reg, cost.NewCalculator(cost.DefaultRates()), Config{
		Model:      "claude-sonnet-4-20250514",
		BatchDelay: time.Millisecond,
	})
	o.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return o
}

func discovery(id, source, typ, title string) model.Discovery {
	return model.Discovery{ID: id, Source: source, Type: typ, Title: title, Status: model.DiscoveryPending}
}

func TestClassify_Success(t *testing.T) {
	t.Parallel()

	mj := new(mockJudge)
	mj.On("Complete", mock.Anything, mock.MatchedBy(func(r judge.Request) bool {
		return r.SystemPrompt == classifySystemPrompt && strings.Contains(r.UserPrompt, "TITLE: Signatera Medicare coverage")
	})).Return(reply("```json\n{\"priority\":\"HIGH\",\"classification\":\"coverage_change\",\"confidence\":1.4,\"affected_tests\":[\"natera-signatera\"],\"reasoning\":\"new LCD\"}\n```"), nil).Once()

	o := newOrchestrator(t, mj)
	c, l := o.Classify(context.Background(), discovery("d1", "cms", "lcd", "Signatera Medicare coverage"))

	assert.Equal(t, "d1", c.DiscoveryID)
	assert.Equal(t, model.PriorityHigh, c.Priority)
	assert.Equal(t, model.ClassificationCoverage, c.Classification)
	assert.InDelta(t, 1.0, c.Confidence, 1e-9)
	assert.Equal(t, []string{"natera-signatera"}, c.AffectedTests)
	assert.False(t, c.Degraded())
	assert.Equal(t, 1, l.Calls)
	assert.Equal(t, int64(100), l.InputTokens)
	mj.AssertExpectations(t)
}

func TestClassify_DegradesOnServiceError(t *testing.T) {
	t.Parallel()

	mj := new(mockJudge)
	mj.On("Complete", mock.Anything, mock.Anything).Return(nil, &judge.ServiceError{StatusCode: 400, Err: errors.New("bad request")}).Once()

	c, l := newOrchestrator(t, mj).Classify(context.Background(), discovery("d1", "vendor", "", "x"))
	assert.Equal(t, model.PriorityLow, c.Priority)
	assert.Equal(t, model.ClassificationError, c.Classification)
	assert.Contains(t, c.Error, "status 400")
	assert.True(t, c.Degraded())
	assert.Zero(t, l.Calls)
}

func TestClassify_DegradesOnParseError(t *testing.T) {
	t.Parallel()

	mj := new(mockJudge)
	mj.On("Complete", mock.Anything, mock.Anything).Return(reply("I cannot help with that."), nil).Once()

	c, l := newOrchestrator(t, mj).Classify(context.Background(), discovery("d1", "vendor", "", "x"))
	assert.Equal(t, model.ClassificationError, c.Classification)
	assert.Contains(t, c.Error, "judge: parse response")
	assert.Equal(t, 1, l.Calls, "tokens of an unparseable answer are still billed")
}

func TestExtractFromSource_NewTestDraft(t *testing.T) {
	t.Parallel()

	mj := new(mockJudge)
	mj.On("Complete", mock.Anything, mock.MatchedBy(func(r judge.Request) bool {
		return r.SystemPrompt == extractSystemPrompt
	})).Return(reply(`{"test_name":"NovaMRD","test_id":null,"is_new_test":true,"category":"mrd",
		"extracted_data":{"vendor":"Nova Dx","approach":"tumor-informed","cancer_types":["colorectal"],"sensitivity":0.92,"fda_status":"CLIA LDT"},
		"citation":"Doe et al. 2026","data_quality":"Medium"}`), nil).Once()

	d := discovery("p1", "pubmed", "abstract", "NovaMRD validation")
	d.URL = "https://pubmed.example/1"
	ex, l := newOrchestrator(t, mj).ExtractFromSource(context.Background(), d)

	assert.Empty(t, ex.Error)
	assert.Equal(t, "NovaMRD", ex.TestName)
	assert.Empty(t, ex.TestID)
	assert.Equal(t, "MRD", ex.Category)
	assert.Equal(t, "medium", ex.DataQuality)
	require.NotNil(t, ex.Draft)
	assert.Equal(t, []string{"specificity", "lod", "initialTat", "followUpTat"}, ex.Draft.MissingFields)
	assert.Equal(t, "Tumor-informed", ex.Draft.Fields["approach"])
	assert.Equal(t, 1, l.Calls)
}

func TestExtractFromSource_ResolvesKnownTest(t *testing.T) {
	t.Parallel()

	mj := new(mockJudge)
	mj.On("Complete", mock.Anything, mock.Anything).
		Return(reply(`{"test_name":"Signatera","is_new_test":false,"category":"MRD","extracted_data":{}}`), nil).Once()

	ex, _ := newOrchestrator(t, mj).ExtractFromSource(context.Background(), discovery("p1", "pubmed", "", "x"))
	assert.Equal(t, "natera-signatera", ex.TestID)
	assert.Nil(t, ex.Draft)
}

func TestExtractFromSource_Degrades(t *testing.T) {
	t.Parallel()

	mj := new(mockJudge)
	mj.On("Complete", mock.Anything, mock.Anything).Return(nil, errors.New("boom")).Once()

	ex, l := newOrchestrator(t, mj).ExtractFromSource(context.Background(), discovery("p1", "pubmed", "", "x"))
	assert.Equal(t, "boom", ex.Error)
	assert.Zero(t, l.Calls)
}

func TestDraftActionCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		verify  bool
		command string
	}{
		{"verification defaults on", `{"action_command":"Add 0340U to Signatera","confidence":0.7}`, true, "Add 0340U to Signatera"},
		{"explicit false", `{"action_command":"Update status","requires_verification":false,"confidence":0.9}`, false, "Update status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mj := new(mockJudge)
			mj.On("Complete", mock.Anything, mock.MatchedBy(func(r judge.Request) bool {
				return r.SystemPrompt == actionSystemPrompt
			})).Return(reply(tt.content), nil).Once()

			a, l := newOrchestrator(t, mj).DraftActionCommand(context.Background(), discovery("d", "vendor", "", "x"), nil)
			assert.Equal(t, tt.command, a.ActionCommand)
			assert.Equal(t, tt.verify, a.RequiresVerification)
			assert.Equal(t, 1, l.Calls)
		})
	}
}

func TestDraftActionCommand_Degrades(t *testing.T) {
	t.Parallel()

	mj := new(mockJudge)
	mj.On("Complete", mock.Anything, mock.Anything).Return(nil, errors.New("down")).Once()

	a, _ := newOrchestrator(t, mj).DraftActionCommand(context.Background(), discovery("d", "vendor", "", "x"), &model.SourceExtraction{TestName: "T"})
	assert.True(t, a.RequiresVerification)
	assert.Equal(t, "down", a.Error)
}

func TestProcessItem_FullPipeline(t *testing.T) {
	t.Parallel()

	sj := &scriptedJudge{respond: func(req judge.Request) (*judge.Response, error) {
		switch req.SystemPrompt {
		case classifySystemPrompt:
			return reply(`{"priority":"medium","classification":"test_update","confidence":0.6}`), nil
		case extractSystemPrompt:
			return reply(`{"test_name":"Signatera","is_new_test":false,"category":"MRD","extracted_data":{"cancer_types":["bladder"]}}`), nil
		default:
			return reply(`{"action_command":"Add bladder cancer to Signatera indications","confidence":0.65}`), nil
		}
	}}

	o := newOrchestrator(t, sj)
	item, l := o.ProcessItem(context.Background(), discovery("p1", "medrxiv", "preprint", "Signatera in bladder cancer"))

	assert.Equal(t, model.StageActionDrafted, item.Stage)
	assert.Equal(t, model.PriorityMedium, item.Priority)
	require.NotNil(t, item.Extraction)
	assert.Equal(t, "natera-signatera", item.Extraction.TestID)
	require.NotNil(t, item.Action)
	assert.True(t, item.Action.RequiresVerification)
	assert.Empty(t, item.Failures)
	assert.Equal(t, 3, l.Calls)

	reqs := sj.requests()
	require.Len(t, reqs, 3)
	assert.Contains(t, reqs[2].UserPrompt, "EXTRACTED DATA")
}

func TestProcessItem_IgnoredStopsAfterClassify(t *testing.T) {
	t.Parallel()

	sj := &scriptedJudge{respond: func(judge.Request) (*judge.Response, error) {
		return reply(`{"priority":"low","classification":"ignore"}`), nil
	}}

	item, l := newOrchestrator(t, sj).ProcessItem(context.Background(), discovery("x", "pubmed", "abstract", "ctDNA kinetics in mice"))
	assert.Equal(t, model.StageClassified, item.Stage)
	assert.Nil(t, item.Extraction)
	assert.Nil(t, item.Action)
	assert.Equal(t, 1, l.Calls)
}

func TestProcessItem_StagesDegradeIndependently(t *testing.T) {
	t.Parallel()

	sj := &scriptedJudge{respond: func(req judge.Request) (*judge.Response, error) {
		switch req.SystemPrompt {
		case classifySystemPrompt:
			return reply(`{"priority":"high","classification":"new_test"}`), nil
		case extractSystemPrompt:
			return nil, errors.New("extraction unavailable")
		default:
			return reply(`{"action_command":"Review new test"}`), nil
		}
	}}

	item, l := newOrchestrator(t, sj).ProcessItem(context.Background(), discovery("p", "journal", "", "New assay"))
	assert.Equal(t, model.StageActionDrafted, item.Stage)
	require.Len(t, item.Failures, 1)
	assert.Equal(t, StageExtract, item.Failures[0].Stage)
	require.NotNil(t, item.Action)
	assert.Equal(t, "Review new test", item.Action.ActionCommand)
	assert.Equal(t, 2, l.Calls)
}

func TestProcessItem_AttachesFacts(t *testing.T) {
	t.Parallel()

	sj := &scriptedJudge{respond: func(judge.Request) (*judge.Response, error) {
		return reply(`{"priority":"low","classification":"coverage_change"}`), nil
	}}

	d := discovery("doc", "blog", "", "Policy")
	d.Data = map[string]any{"content": "Coverage Criteria\nSignatera (0340U) is covered for stage II colon cancer."}
	item, _ := newOrchestrator(t, sj).ProcessItem(context.Background(), d)
	require.NotNil(t, item.Facts)
	assert.Equal(t, []string{"0340U"}, item.Facts.Codes.PLA)
	assert.Greater(t, item.Facts.RelevanceScore, 0.5)
}

func TestTruncate_RuneBoundary(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", truncate("short", 10))

	got := truncate("ab™cd", 3)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "ab\n... [truncated]", got)

	got = truncate("ééé", 3)
	assert.True(t, utf8.ValidString(got))
	assert.True(t, strings.HasPrefix(got, "é\n"))
}
