package service

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dineflow/recommend/core"
	"github.com/dineflow/recommend/engine"
	"github.com/dineflow/recommend/experiment"
	"github.com/dineflow/recommend/trending"
)

// Router 构建 gin 路由。
func (s *Service) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/health", s.handleHealth)

	r.GET("/recommendations/:userID", s.handleRecommendations)
	r.GET("/recommendations/:userID/personalized", s.handlePersonalized)
	r.GET("/recommendations/:userID/contextual", s.handleContextual)

	r.GET("/trending", s.handleTrending)
	r.GET("/seasonal", s.handleSeasonal)

	r.POST("/users/:userID/interactions", s.handleTrackInteraction)

	r.POST("/experiments", s.handleCreateExperiment)
	r.GET("/experiments", s.handleListExperiments)
	r.GET("/experiments/:id/results", s.handleExperimentResults)
	r.POST("/experiments/:id/stop", s.handleStopExperiment)

	r.POST("/model/train", s.handleTrainModel)
	r.GET("/model/status", s.handleModelStatus)

	r.POST("/trends/analyze", s.handleAnalyzeTrends)
	r.GET("/trends/status", s.handleTrendStatus)

	return r
}

func (s *Service) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// abortError 把错误统一成 {error: {code, message, field?}} 响应体。
func abortError(c *gin.Context, err error) {
	if dErr := core.GetDomainError(err); dErr != nil {
		body := gin.H{"code": dErr.Code, "message": dErr.Message}
		if dErr.Field != "" {
			body["field"] = dErr.Field
		}
		c.JSON(dErr.HTTPStatus(), gin.H{"error": body})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{
		"code":    core.ErrorCodeInternalError,
		"message": err.Error(),
	}})
}

func badRequest(c *gin.Context, field, msg string) {
	abortError(c, core.NewFieldError(core.ModuleService, core.ErrorCodeInvalidInput, field, msg))
}

// parseOptions 从查询参数组装推荐选项。
// context 参数是 URL 编码的 JSON 用餐上下文。
func parseOptions(c *gin.Context) (engine.RecommendOptions, error) {
	var opts engine.RecommendOptions

	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, core.NewFieldError(core.ModuleService, core.ErrorCodeInvalidInput, "limit",
				"limit must be an integer")
		}
		opts.Limit = n
	}
	opts.Algorithm = c.Query("algorithm")

	if v := c.Query("context"); v != "" {
		d, err := core.ParseContext(v)
		if err != nil {
			return opts, err
		}
		opts.Context = d
	}
	if v := c.Query("includeExplanations"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, core.NewFieldError(core.ModuleService, core.ErrorCodeInvalidInput, "includeExplanations",
				"includeExplanations must be a boolean")
		}
		opts.IncludeExplanations = &b
	}
	if v := c.Query("excludeInteracted"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, core.NewFieldError(core.ModuleService, core.ErrorCodeInvalidInput, "excludeInteracted",
				"excludeInteracted must be a boolean")
		}
		opts.ExcludeInteracted = &b
	}
	if v := c.Query("diversityFactor"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return opts, core.NewFieldError(core.ModuleService, core.ErrorCodeInvalidInput, "diversityFactor",
				"diversityFactor must be a number")
		}
		opts.DiversityFactor = &f
	}
	return opts, nil
}

func (s *Service) handleRecommendations(c *gin.Context) {
	opts, err := parseOptions(c)
	if err != nil {
		abortError(c, err)
		return
	}
	resp, err := s.GetRecommendations(c.Request.Context(), c.Param("userID"), opts)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Service) handlePersonalized(c *gin.Context) {
	opts, err := parseOptions(c)
	if err != nil {
		abortError(c, err)
		return
	}
	resp, err := s.GetPersonalized(c.Request.Context(), c.Param("userID"), opts)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Service) handleContextual(c *gin.Context) {
	opts, err := parseOptions(c)
	if err != nil {
		abortError(c, err)
		return
	}
	resp, err := s.GetContextual(c.Request.Context(), c.Param("userID"), opts)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func parseTrendingQuery(c *gin.Context) (trending.Query, error) {
	q := trending.Query{
		Window:     trending.Window(c.DefaultQuery("timePeriod", string(trending.WindowWeek))),
		Category:   c.Query("category"),
		MealPeriod: c.Query("mealPeriod"),
		Season:     c.Query("season"),
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return q, core.NewFieldError(core.ModuleService, core.ErrorCodeInvalidInput, "limit",
				"limit must be an integer")
		}
		q.Limit = n
	}
	return q, nil
}

func (s *Service) handleTrending(c *gin.Context) {
	q, err := parseTrendingQuery(c)
	if err != nil {
		abortError(c, err)
		return
	}
	items, err := s.Trending(c.Request.Context(), q)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items), "timePeriod": q.Window})
}

func (s *Service) handleSeasonal(c *gin.Context) {
	q, err := parseTrendingQuery(c)
	if err != nil {
		abortError(c, err)
		return
	}
	items, err := s.Seasonal(c.Request.Context(), q)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items), "timePeriod": q.Window})
}

// trackRequest 是交互上报的请求体。
type trackRequest struct {
	ItemID           string   `json:"itemId"`
	InteractionType  string   `json:"interactionType"`
	InteractionValue *float64 `json:"interactionValue,omitempty"`
	Source           string   `json:"source,omitempty"`
	SessionID        string   `json:"sessionId,omitempty"`
	RecommendationID string   `json:"recommendationId,omitempty"`
	Position         int      `json:"position,omitempty"`
}

func (s *Service) handleTrackInteraction(c *gin.Context) {
	var req trackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "", "invalid request body")
		return
	}
	in := &core.Interaction{
		UserID:           c.Param("userID"),
		ItemID:           req.ItemID,
		Type:             core.InteractionType(req.InteractionType),
		Value:            req.InteractionValue,
		Source:           req.Source,
		SessionID:        req.SessionID,
		RecommendationID: req.RecommendationID,
		Position:         req.Position,
	}
	if err := s.TrackInteraction(c.Request.Context(), in); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": in.ID, "recorded": true})
}

func (s *Service) handleCreateExperiment(c *gin.Context) {
	var cfg experiment.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		badRequest(c, "", "invalid request body")
		return
	}
	exp, err := s.CreateExperiment(cfg)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusCreated, exp)
}

func (s *Service) handleListExperiments(c *gin.Context) {
	exps := s.ListExperiments()
	c.JSON(http.StatusOK, gin.H{"experiments": exps, "count": len(exps)})
}

func (s *Service) handleExperimentResults(c *gin.Context) {
	analysis, err := s.ExperimentResults(c.Param("id"))
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, analysis)
}

func (s *Service) handleStopExperiment(c *gin.Context) {
	exp, err := s.StopExperiment(c.Param("id"))
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, exp)
}

func (s *Service) handleTrainModel(c *gin.Context) {
	if err := s.TrainModel(c.Request.Context()); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "training"})
}

func (s *Service) handleModelStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.TrainingStatus())
}

func (s *Service) handleAnalyzeTrends(c *gin.Context) {
	if err := s.AnalyzeTrends(c.Request.Context()); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "analyzing"})
}

func (s *Service) handleTrendStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.TrendStatus())
}

func (s *Service) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, s.HealthCheck())
}
