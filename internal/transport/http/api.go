package http

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
	"quizroom-service/internal/identity"
)

// API serves the REST companion surface.
type API struct {
	coord  *app.Coordinator
	tokens *identity.Tokens
	log    *zap.Logger
}

func NewAPI(coord *app.Coordinator, tokens *identity.Tokens, log *zap.Logger) *API {
	if log == nil {
		log = zap.NewNop()
	}
	return &API{coord: coord, tokens: tokens, log: log}
}

func (a *API) Register(r gin.IRouter) {
	api := r.Group("/api")
	{
		api.POST("/quizzes", a.createQuiz)
		api.GET("/quizzes", a.listQuizzes)
		api.GET("/quizzes/:code", a.getQuiz)
		api.GET("/quizzes/:code/leaderboard", a.leaderboard)
		api.GET("/quizzes/:code/admin", a.adminQuiz)

		// session commands for clients without a websocket
		api.POST("/quizzes/:code/join", a.join)
		api.POST("/quizzes/:code/start", a.start)
		api.POST("/quizzes/:code/answers", a.submitAnswer)
		api.POST("/quizzes/:code/end", a.end)
		api.POST("/quizzes/:code/leave", a.leave)
		api.GET("/sessions/:code", a.session)
	}
}

type sessionRequest struct {
	UserID        string `json:"userId"`
	Username      string `json:"username"`
	QuestionIndex int    `json:"questionIndex"`
	Answer        string `json:"answer"`
}

// caller resolves who issued a session command: the bearer token when tokens
// are enabled, the request body otherwise.
func (a *API) caller(c *gin.Context) (sessionRequest, bool) {
	var req sessionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"kind": domain.KindBadRequest, "error": "invalid request body"})
			return req, false
		}
	}
	if a.tokens.Enabled() {
		id, err := a.bearer(c)
		if err != nil {
			a.writeError(c, err)
			return req, false
		}
		req.UserID, req.Username = id.UserID, id.Username
	}
	if strings.TrimSpace(req.UserID) == "" {
		a.writeError(c, fmt.Errorf("%w: userId is required", domain.ErrBadRequest))
		return req, false
	}
	return req, true
}

func (a *API) join(c *gin.Context) {
	req, ok := a.caller(c)
	if !ok {
		return
	}
	snap, err := a.coord.Join(c.Request.Context(), c.Param("code"), req.UserID, req.Username)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (a *API) start(c *gin.Context) {
	req, ok := a.caller(c)
	if !ok {
		return
	}
	snap, err := a.coord.Start(c.Request.Context(), c.Param("code"), req.UserID)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (a *API) submitAnswer(c *gin.Context) {
	req, ok := a.caller(c)
	if !ok {
		return
	}
	res, err := a.coord.SubmitAnswer(c.Request.Context(), c.Param("code"), req.UserID, req.QuestionIndex, req.Answer)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (a *API) end(c *gin.Context) {
	req, ok := a.caller(c)
	if !ok {
		return
	}
	final, err := a.coord.End(c.Request.Context(), c.Param("code"), req.UserID)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"finalScores": final})
}

func (a *API) leave(c *gin.Context) {
	req, ok := a.caller(c)
	if !ok {
		return
	}
	if err := a.coord.Leave(c.Request.Context(), c.Param("code"), req.UserID); err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"left": true})
}

func (a *API) adminQuiz(c *gin.Context) {
	viewer := c.Query("userId")
	if a.tokens.Enabled() {
		id, err := a.bearer(c)
		if err != nil {
			a.writeError(c, err)
			return
		}
		viewer = id.UserID
	}
	quiz, err := a.coord.AdminQuiz(c.Request.Context(), c.Param("code"), viewer)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, quiz)
}

type createQuizRequest struct {
	Title       string            `json:"title"`
	Category    string            `json:"category"`
	Questions   []domain.Question `json:"questions"`
	CreatedBy   string            `json:"createdBy"`
	CreatorName string            `json:"creatorName"`
}

func (a *API) createQuiz(c *gin.Context) {
	var req createQuizRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"kind": domain.KindBadRequest, "error": "invalid request body"})
		return
	}

	creator := domain.Identity{UserID: req.CreatedBy, Username: req.CreatorName}
	if a.tokens.Enabled() {
		id, err := a.bearer(c)
		if err != nil {
			a.writeError(c, err)
			return
		}
		creator = id
	}

	code, err := a.coord.CreateQuiz(c.Request.Context(), creator, domain.Quiz{
		Title:     req.Title,
		Category:  req.Category,
		Questions: req.Questions,
	})
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"code": code})
}

func (a *API) listQuizzes(c *gin.Context) {
	quizzes, err := a.coord.ListQuizzes(c.Request.Context())
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quizzes": quizzes})
}

func (a *API) getQuiz(c *gin.Context) {
	viewer := c.Query("userId")
	if a.tokens.Enabled() && c.GetHeader("Authorization") != "" {
		id, err := a.bearer(c)
		if err != nil {
			a.writeError(c, err)
			return
		}
		viewer = id.UserID
	}
	quiz, err := a.coord.Quiz(c.Request.Context(), c.Param("code"), viewer)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, quiz)
}

func (a *API) leaderboard(c *gin.Context) {
	report, err := a.coord.Leaderboard(c.Request.Context(), c.Param("code"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (a *API) session(c *gin.Context) {
	snap, err := a.coord.Snapshot(c.Request.Context(), c.Param("code"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (a *API) bearer(c *gin.Context) (domain.Identity, error) {
	header := c.GetHeader("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return domain.Identity{}, fmt.Errorf("%w: bearer token required", identity.ErrInvalidToken)
	}
	return a.tokens.Resolve(parts[1])
}

func (a *API) writeError(c *gin.Context, err error) {
	kind := domain.KindOf(err)
	status := statusFor(kind)
	if errors.Is(err, identity.ErrInvalidToken) {
		status = http.StatusUnauthorized
	}
	msg := err.Error()
	if kind == domain.KindInternal {
		a.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		msg = "internal error"
	}
	c.JSON(status, gin.H{"kind": kind, "error": msg})
}

func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindUnauthorized:
		return http.StatusForbidden
	case domain.KindBadRequest:
		return http.StatusBadRequest
	case domain.KindInvalidTransition, domain.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
