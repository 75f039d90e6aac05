package handlers

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/huangang/offboarding/internal/middleware"
	"github.com/huangang/offboarding/internal/models"
	"github.com/huangang/offboarding/internal/offboarding"
	"github.com/huangang/offboarding/internal/services"
	"github.com/huangang/offboarding/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (ts *testServer) openSession(t *testing.T, tok string, status offboarding.Status, customerID uint) (*models.Conversation, *services.Session) {
	t.Helper()
	conv := &models.Conversation{Subject: "x", CustomerID: customerID, Status: status}
	require.NoError(t, ts.db.Create(conv).Error)

	w, env := ts.do(t, "POST", fmt.Sprintf("/api/conversations/%d/sessions", conv.ID), tok, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	sid := decode[struct {
		ID string `json:"id"`
	}](t, env.Data).ID
	assert.Equal(t, sid, w.Header().Get(logger.SessionHeader))

	s, err := ts.sessions.Get(sid)
	require.NoError(t, err)
	return conv, s
}

func TestSession_OpenForeignConversation(t *testing.T) {
	ts := newTestServer(t)
	conv := &models.Conversation{Subject: "x", CustomerID: 5, Status: offboarding.StatusOpen}
	require.NoError(t, ts.db.Create(conv).Error)

	w, _ := ts.do(t, "POST", fmt.Sprintf("/api/conversations/%d/sessions", conv.ID), token(t, 6, middleware.RoleCustomer), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSession_FullOffboardingFlow(t *testing.T) {
	ts := newTestServer(t)
	customer := token(t, 5, middleware.RoleCustomer)
	agent := token(t, 1, middleware.RoleAgent)
	conv, s := ts.openSession(t, customer, offboarding.StatusOpen, 5)
	base := "/api/sessions/" + s.ID

	prompt := func() PromptResponse {
		w, env := ts.do(t, "GET", base+"/prompt", customer, nil)
		require.Equal(t, http.StatusOK, w.Code)
		return decode[PromptResponse](t, env.Data)
	}

	assert.Empty(t, prompt().Prompts, "no prompt while the conversation is open")

	w, _ := ts.do(t, "PUT", fmt.Sprintf("/api/conversations/%d/status", conv.ID), agent, map[string]string{"status": "completed"})
	require.Equal(t, http.StatusOK, w.Code)

	got := prompt()
	want := []offboarding.Prompt{{Kind: offboarding.PromptSelectRating}}
	if diff := cmp.Diff(want, got.Prompts); diff != "" {
		t.Errorf("prompt mismatch (-want +got):\n%s", diff)
	}

	w, env := ts.do(t, "POST", base+"/rating", customer, map[string]string{"score": "good"})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "accepted", env.Message)

	assert.Equal(t, offboarding.PromptAddComment, prompt().Prompts[0].Kind)

	w, _ = ts.do(t, "PUT", base+"/rating", customer, map[string]string{"score": "bad"})
	require.Equal(t, http.StatusAccepted, w.Code)

	w, _ = ts.do(t, "POST", base+"/comment", customer, map[string]string{"score": "bad", "comment": "   "})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w, _ = ts.do(t, "POST", base+"/comment", customer, map[string]string{"score": "bad", "comment": "slow answers"})
	require.Equal(t, http.StatusAccepted, w.Code)
	waitIdle(t, s)

	got = prompt()
	want = []offboarding.Prompt{{Kind: offboarding.PromptFeedbackCompleted, Score: offboarding.ScoreBad, Comment: offboarding.StringPtr("slow answers")}}
	if diff := cmp.Diff(want, got.Prompts); diff != "" {
		t.Errorf("prompt mismatch (-want +got):\n%s", diff)
	}

	var rows []models.Rating
	require.NoError(t, ts.db.Where("conversation_id = ?", conv.ID).Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, offboarding.ScoreBad, rows[0].Score)

	w, env = ts.do(t, "GET", fmt.Sprintf("/api/conversations/%d/submissions", conv.ID), agent, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, decode[[]models.SubmissionLog](t, env.Data))

	w, env = ts.do(t, "GET", base+"/state", customer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	state := decode[struct {
		State offboarding.State `json:"state"`
	}](t, env.Data).State
	require.NotNil(t, state.LatestRating)
	assert.Equal(t, rows[0].ID, state.LatestRating.ID)
	assert.Empty(t, state.Queue)
}

func TestSession_ValidatesScore(t *testing.T) {
	ts := newTestServer(t)
	customer := token(t, 5, middleware.RoleCustomer)
	_, s := ts.openSession(t, customer, offboarding.StatusCompleted, 5)

	w, _ := ts.do(t, "POST", "/api/sessions/"+s.ID+"/rating", customer, map[string]string{"score": "excellent"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = ts.do(t, "POST", "/api/sessions/"+s.ID+"/rating", customer, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSession_RatingActionsNeedTheirPrompt(t *testing.T) {
	ts := newTestServer(t)
	customer := token(t, 5, middleware.RoleCustomer)
	agent := token(t, 1, middleware.RoleAgent)
	conv, s := ts.openSession(t, customer, offboarding.StatusOpen, 5)
	base := "/api/sessions/" + s.ID

	w, env := ts.do(t, "POST", base+"/rating", customer, map[string]string{"score": "bad"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, 409, env.Code)

	w, _ = ts.do(t, "POST", base+"/comment", customer, map[string]string{"score": "bad", "comment": "slow"})
	assert.Equal(t, http.StatusConflict, w.Code)

	var count int64
	require.NoError(t, ts.db.Model(&models.Rating{}).Where("conversation_id = ?", conv.ID).Count(&count).Error)
	assert.Zero(t, count, "no rating is stored for an open conversation")

	w, _ = ts.do(t, "PUT", fmt.Sprintf("/api/conversations/%d/status", conv.ID), agent, map[string]string{"status": "completed"})
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = ts.do(t, "PUT", base+"/rating", customer, map[string]string{"score": "bad"})
	assert.Equal(t, http.StatusConflict, w.Code, "changing needs the comment item")

	w, _ = ts.do(t, "POST", base+"/rating", customer, map[string]string{"score": "good"})
	require.Equal(t, http.StatusAccepted, w.Code)

	w, _ = ts.do(t, "POST", base+"/rating", customer, map[string]string{"score": "bad"})
	assert.Equal(t, http.StatusConflict, w.Code, "the selector is gone once a score is picked")
	waitIdle(t, s)
	assert.Equal(t, offboarding.ScoreGood, s.Engine().Snapshot().UIScore)
}

func TestSession_OtherUserCannotUseSession(t *testing.T) {
	ts := newTestServer(t)
	_, s := ts.openSession(t, token(t, 5, middleware.RoleCustomer), offboarding.StatusCompleted, 5)

	w, _ := ts.do(t, "GET", "/api/sessions/"+s.ID+"/prompt", token(t, 6, middleware.RoleCustomer), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSession_ReplyAndClose(t *testing.T) {
	ts := newTestServer(t)
	customer := token(t, 5, middleware.RoleCustomer)
	conv, s := ts.openSession(t, customer, offboarding.StatusCompleted, 5)
	base := "/api/sessions/" + s.ID

	w, _ := ts.do(t, "POST", base+"/replies", customer, map[string]string{"body": "actually, not fixed"})
	require.Equal(t, http.StatusCreated, w.Code)

	var stored models.Conversation
	require.NoError(t, ts.db.First(&stored, conv.ID).Error)
	assert.Equal(t, offboarding.StatusOpen, stored.Status)

	w, _ = ts.do(t, "DELETE", base, customer, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = ts.do(t, "GET", base+"/prompt", customer, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSession_StreamsViewEvents(t *testing.T) {
	ts := newTestServer(t)
	customer := token(t, 5, middleware.RoleCustomer)
	conv, s := ts.openSession(t, customer, offboarding.StatusOpen, 5)

	srv := httptest.NewServer(ts.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", srv.URL+"/api/sessions/"+s.ID+"/events?token="+customer, nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return ts.hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	// a status change asks the view to refresh
	ts.sessions.ConversationChanged(conv.ID, offboarding.StatusCompleted)

	reader := bufio.NewReader(resp.Body)
	var lines []string
	for len(lines) < 2 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	assert.Equal(t, "event: refresh", lines[0])
	assert.Contains(t, lines[1], `"session_id":"`+s.ID+`"`)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	w, _ := ts.do(t, "GET", "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"queue_mode":"sync"`)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
