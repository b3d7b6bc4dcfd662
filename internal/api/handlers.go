package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/victornm/tabletop/internal/domain"
	"github.com/victornm/tabletop/internal/errors"
	"github.com/victornm/tabletop/internal/results"
	"github.com/victornm/tabletop/internal/score"
	"github.com/victornm/tabletop/internal/training"
)

type (
	createTrainingBody struct {
		Name            string             `json:"name" binding:"required"`
		Description     string             `json:"description"`
		Scenario        domain.ScenarioRef `json:"scenario"`
		MaxParticipants int                `json:"max_participants"`
	}

	joinBody struct {
		AccessCode string      `json:"access_code" binding:"required"`
		Role       domain.Role `json:"role"`
		Nickname   string      `json:"nickname"`
	}

	inviteBody struct {
		UserID   string      `json:"user_id" binding:"required"`
		Nickname string      `json:"nickname"`
		Role     domain.Role `json:"role"`
	}

	respondInvitationBody struct {
		Accept bool `json:"accept"`
	}

	changeStatusBody struct {
		Status domain.Status `json:"status" binding:"required"`
	}

	changeRoundBody struct {
		Action training.RoundAction `json:"action" binding:"required"`
		Round  *int                 `json:"round"`
	}

	roundTimerBody struct {
		Action training.TimerAction `json:"action" binding:"required"`
	}

	submitAnswerBody struct {
		RoundID    *int            `json:"round_id" binding:"required"`
		QuestionID string          `json:"question_id" binding:"required"`
		Answer     json.RawMessage `json:"answer" binding:"required"`
	}
)

func (a *API) CreateTraining(c *gin.Context) {
	var body createTrainingBody
	if !bind(c, &body) {
		return
	}

	me := caller(c)
	t, err := a.ts.CreateTraining(c.Request.Context(), training.CreateTrainingRequest{
		Facilitator:     me.Subject,
		Nickname:        me.Nickname,
		Name:            body.Name,
		Description:     body.Description,
		Scenario:        body.Scenario,
		MaxParticipants: body.MaxParticipants,
	})
	if err != nil {
		abort(c, err)
		return
	}

	a.renderTraining(c, http.StatusCreated, t)
}

func (a *API) GetTraining(c *gin.Context) {
	t, p, err := a.ts.GetTraining(c.Request.Context(), training.GetTrainingRequest{
		TrainingID: c.Param("id"),
		UserID:     caller(c).Subject,
	})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, projectTraining(t, p, a.now()))
}

func (a *API) Join(c *gin.Context) {
	var body joinBody
	if !bind(c, &body) {
		return
	}

	me := caller(c)
	nickname := body.Nickname
	if nickname == "" {
		nickname = me.Nickname
	}

	t, err := a.ts.Join(c.Request.Context(), training.JoinRequest{
		TrainingID: c.Param("id"),
		UserID:     me.Subject,
		Nickname:   nickname,
		AccessCode: body.AccessCode,
		Role:       body.Role,
	})
	if err != nil {
		abort(c, err)
		return
	}

	a.renderTraining(c, http.StatusOK, t)
}

func (a *API) Invite(c *gin.Context) {
	var body inviteBody
	if !bind(c, &body) {
		return
	}

	t, err := a.ts.Invite(c.Request.Context(), training.InviteRequest{
		TrainingID:  c.Param("id"),
		Facilitator: caller(c).Subject,
		UserID:      body.UserID,
		Nickname:    body.Nickname,
		Role:        body.Role,
	})
	if err != nil {
		abort(c, err)
		return
	}

	a.renderTraining(c, http.StatusCreated, t)
}

func (a *API) RespondInvitation(c *gin.Context) {
	var body respondInvitationBody
	if !bind(c, &body) {
		return
	}

	t, err := a.ts.RespondInvitation(c.Request.Context(), training.RespondInvitationRequest{
		TrainingID: c.Param("id"),
		UserID:     caller(c).Subject,
		Accept:     body.Accept,
	})
	if err != nil {
		abort(c, err)
		return
	}

	if !body.Accept {
		c.Status(http.StatusNoContent)
		return
	}
	a.renderTraining(c, http.StatusOK, t)
}

func (a *API) ChangeStatus(c *gin.Context) {
	var body changeStatusBody
	if !bind(c, &body) {
		return
	}

	t, err := a.ts.ChangeStatus(c.Request.Context(), training.ChangeStatusRequest{
		TrainingID: c.Param("id"),
		UserID:     caller(c).Subject,
		Status:     body.Status,
	})
	if err != nil {
		abort(c, err)
		return
	}

	a.renderTraining(c, http.StatusOK, t)
}

func (a *API) ChangeRound(c *gin.Context) {
	var body changeRoundBody
	if !bind(c, &body) {
		return
	}

	t, err := a.ts.ChangeRound(c.Request.Context(), training.ChangeRoundRequest{
		TrainingID: c.Param("id"),
		UserID:     caller(c).Subject,
		Action:     body.Action,
		Round:      body.Round,
	})
	if err != nil {
		abort(c, err)
		return
	}

	a.renderTraining(c, http.StatusOK, t)
}

func (a *API) ControlRoundTimer(c *gin.Context) {
	var body roundTimerBody
	if !bind(c, &body) {
		return
	}

	t, err := a.ts.ControlRoundTimer(c.Request.Context(), training.ControlRoundTimerRequest{
		TrainingID: c.Param("id"),
		UserID:     caller(c).Subject,
		Action:     body.Action,
	})
	if err != nil {
		abort(c, err)
		return
	}

	a.renderTraining(c, http.StatusOK, t)
}

func (a *API) SubmitAnswer(c *gin.Context) {
	var body submitAnswerBody
	if !bind(c, &body) {
		return
	}

	resp, err := a.ss.SubmitAnswer(c.Request.Context(), score.SubmitAnswerRequest{
		TrainingID: c.Param("id"),
		UserID:     caller(c).Subject,
		RoundID:    *body.RoundID,
		QuestionID: body.QuestionID,
		Answer:     body.Answer,
	})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusCreated, viewSubmission(resp))
}

func (a *API) ListResponses(c *gin.Context) {
	rs, err := a.ss.ListForUser(c.Request.Context(), score.ListForUserRequest{
		TrainingID: c.Param("id"),
		UserID:     caller(c).Subject,
	})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"responses": viewResponses(rs)})
}

func (a *API) ListAllResponses(c *gin.Context) {
	rs, err := a.ss.ListForTraining(c.Request.Context(), score.ListForTrainingRequest{
		TrainingID: c.Param("id"),
		UserID:     caller(c).Subject,
	})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"responses": viewResponses(rs)})
}

func (a *API) GetRanking(c *gin.Context) {
	r, err := a.rs.GetRanking(c.Request.Context(), results.GetRankingRequest{
		TrainingID: c.Param("id"),
	})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, viewRanking(r))
}

func (a *API) GetResults(c *gin.Context) {
	r, err := a.rs.GetResults(c.Request.Context(), results.GetResultsRequest{
		TrainingID: c.Param("id"),
		UserID:     caller(c).Subject,
	})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, r)
}

func (a *API) GetStatistics(c *gin.Context) {
	s, err := a.rs.GetStatistics(c.Request.Context(), results.GetStatisticsRequest{
		TrainingID: c.Param("id"),
		UserID:     caller(c).Subject,
	})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, s)
}

func (a *API) renderTraining(c *gin.Context, status int, t *domain.Training) {
	var viewer domain.Participant
	if p, ok := t.Participant(caller(c).Subject); ok {
		viewer = *p
	}
	c.JSON(status, projectTraining(t, &viewer, a.now()))
}

func bind(c *gin.Context, body any) bool {
	if err := c.ShouldBindJSON(body); err != nil {
		abort(c, errors.New(errors.CodeInvalidArgument,
			errors.WithReason(errors.ReasonInvalidRequest),
			errors.WithMessagef("malformed request body: %v", err),
			errors.WithCause(err),
		))
		return false
	}
	return true
}

// abort renders err as {"error": {code, reason, message}}. Causes never leave the
// process; internal failures are logged instead.
func abort(c *gin.Context, err error) {
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal {
		slog.ErrorContext(c.Request.Context(), "api: request failed", "path", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(e.HTTPStatusCode(), gin.H{"error": e})
}
