// Package serve answers eligibility predictions over HTTP with a deployed
// model artifact.
package serve

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/willbeason/insurance-eligibility/pkg/features"
	"github.com/willbeason/insurance-eligibility/pkg/model"
	"github.com/willbeason/insurance-eligibility/pkg/objstore"
)

const (
	Eligible    = "Eligible"
	NotEligible = "Not Eligible"
)

var (
	ErrNoModel       = errors.New("no model loaded")
	ErrModelNotFound = errors.New("deployed model not found")
)

// Form is one customer as submitted by the prediction page. The vehicle
// columns are already one-hot encoded.
type Form struct {
	Gender             string   `form:"Gender" json:"Gender" binding:"required"`
	Age                *float64 `form:"Age" json:"Age" binding:"required"`
	DrivingLicense     *float64 `form:"Driving_License" json:"Driving_License" binding:"required"`
	RegionCode         *float64 `form:"Region_Code" json:"Region_Code" binding:"required"`
	PreviouslyInsured  *float64 `form:"Previously_Insured" json:"Previously_Insured" binding:"required"`
	AnnualPremium      *float64 `form:"Annual_Premium" json:"Annual_Premium" binding:"required"`
	PolicySalesChannel *float64 `form:"Policy_Sales_Channel" json:"Policy_Sales_Channel" binding:"required"`
	Vintage            *float64 `form:"Vintage" json:"Vintage" binding:"required"`
	VehicleAgeLt1Year  *float64 `form:"Vehicle_Age_lt_1_Year" json:"Vehicle_Age_lt_1_Year" binding:"required"`
	VehicleAgeGt2Years *float64 `form:"Vehicle_Age_gt_2_Years" json:"Vehicle_Age_gt_2_Years" binding:"required"`
	VehicleDamageYes   *float64 `form:"Vehicle_Damage_Yes" json:"Vehicle_Damage_Yes" binding:"required"`
}

// Prediction is the JSON answer of the prediction API.
type Prediction struct {
	Prediction int    `json:"prediction"`
	Result     string `json:"result"`
}

func Label(prediction float64) string {
	if prediction == 1 {
		return Eligible
	}
	return NotEligible
}

type loaded struct {
	artifact *model.Artifact
	digest   string
}

type Server struct {
	transform *features.Transform
	basePath  string
	model     *atomic.Pointer[loaded]
	served    *atomic.Int64
	gatherer  prometheus.Gatherer
	logger    *zap.Logger

	predictions *prometheus.CounterVec
	failures    *prometheus.CounterVec
	reloads     prometheus.Counter
}

// New returns a Server without a model. Metrics are registered with reg and
// served from it.
func New(transform *features.Transform, basePath string, reg *prometheus.Registry, logger *zap.Logger) *Server {
	factory := promauto.With(reg)
	return &Server{
		transform: transform,
		basePath:  basePath,
		model:     atomic.NewPointer[loaded](nil),
		served:    atomic.NewInt64(0),
		gatherer:  reg,
		logger:    logger,
		predictions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "insurance_eligibility",
			Subsystem: "serve",
			Name:      "predictions_total",
			Help:      "Predictions served by result",
		}, []string{"result"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "insurance_eligibility",
			Subsystem: "serve",
			Name:      "prediction_failures_total",
			Help:      "Prediction requests that could not be answered, by reason",
		}, []string{"reason"}),
		reloads: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "insurance_eligibility",
			Subsystem: "serve",
			Name:      "model_loads_total",
			Help:      "Model artifacts loaded",
		}),
	}
}

// SetModel replaces the served model. data is its encoded form.
func (s *Server) SetModel(data []byte) error {
	a, err := model.Decode(data)
	if err != nil {
		return err
	}
	digest := model.Digest(data)
	s.model.Store(&loaded{artifact: a, digest: digest})
	s.reloads.Inc()
	s.logger.Info("model loaded", zap.String("blake2b", digest), zap.Int("trees", len(a.Classifier.Trees)))
	return nil
}

func (s *Server) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading model artifact %q: %w", path, err)
	}
	return s.SetModel(data)
}

// LoadFromStore loads the deployed model at key.
func (s *Server) LoadFromStore(ctx context.Context, store objstore.Store, key string) error {
	lookup, err := store.Fetch(ctx, key)
	if err != nil {
		return err
	}
	if !lookup.Found {
		return fmt.Errorf("%w: %s/%s", ErrModelNotFound, store.Bucket(), key)
	}
	return s.SetModel(lookup.Object)
}

// Watch reloads the model whenever the file at path is written or replaced,
// until ctx is done. A model that fails to load leaves the current one in
// place.
func (s *Server) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() {
		_ = watcher.Close()
	}()

	path = filepath.Clean(path)
	// Watch the directory so that files replaced by rename are seen.
	err = watcher.Add(filepath.Dir(path))
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path || !event.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			err := s.LoadFile(path)
			if err != nil {
				s.logger.Warn("keeping current model", zap.String("path", path), zap.Error(err))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("watching model file", zap.Error(err))
		}
	}
}

func (s *Server) predict(form Form) (float64, error) {
	current := s.model.Load()
	if current == nil {
		return 0, ErrNoModel
	}
	gender, err := s.transform.EncodeBinary("Gender", form.Gender)
	if err != nil {
		return 0, err
	}
	return current.artifact.PredictRow(map[string]float64{
		"Gender":                 gender,
		"Age":                    *form.Age,
		"Driving_License":        *form.DrivingLicense,
		"Region_Code":            *form.RegionCode,
		"Previously_Insured":     *form.PreviouslyInsured,
		"Annual_Premium":         *form.AnnualPremium,
		"Policy_Sales_Channel":   *form.PolicySalesChannel,
		"Vintage":                *form.Vintage,
		"Vehicle_Age_lt_1_Year":  *form.VehicleAgeLt1Year,
		"Vehicle_Age_gt_2_Years": *form.VehicleAgeGt2Years,
		"Vehicle_Damage_Yes":     *form.VehicleDamageYes,
	})
}

func (s *Server) answer(form Form) (Prediction, int, error) {
	prediction, err := s.predict(form)
	switch {
	case errors.Is(err, ErrNoModel):
		s.failures.WithLabelValues("no_model").Inc()
		return Prediction{}, http.StatusServiceUnavailable, err
	case errors.Is(err, features.ErrUnknownCategory):
		s.failures.WithLabelValues("invalid_input").Inc()
		return Prediction{}, http.StatusBadRequest, err
	case err != nil:
		s.failures.WithLabelValues("model_error").Inc()
		return Prediction{}, http.StatusInternalServerError, err
	}

	result := Prediction{Prediction: int(prediction), Result: Label(prediction)}
	s.predictions.WithLabelValues(result.Result).Inc()
	s.served.Inc()
	return result, http.StatusOK, nil
}

func (s *Server) handleIndex(c *gin.Context) {
	c.HTML(http.StatusOK, "index", gin.H{"action": c.Request.URL.Path})
}

func (s *Server) handleForm(c *gin.Context) {
	var form Form
	err := c.ShouldBind(&form)
	if err != nil {
		s.failures.WithLabelValues("invalid_input").Inc()
		c.HTML(http.StatusBadRequest, "index", gin.H{"action": c.Request.URL.Path, "error": err.Error()})
		return
	}
	result, status, err := s.answer(form)
	if err != nil {
		c.HTML(status, "index", gin.H{"action": c.Request.URL.Path, "error": err.Error()})
		return
	}
	c.HTML(status, "index", gin.H{"action": c.Request.URL.Path, "context": result.Result})
}

func (s *Server) handlePredict(c *gin.Context) {
	var form Form
	err := c.ShouldBindJSON(&form)
	if err != nil {
		s.failures.WithLabelValues("invalid_input").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, status, err := s.answer(form)
	if err != nil {
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(status, result)
}

func (s *Server) handleHealth(c *gin.Context) {
	current := s.model.Load()
	body := gin.H{
		"status":       "ok",
		"model_loaded": current != nil,
		"predictions":  s.served.Load(),
	}
	if current != nil {
		body["model_digest"] = current.digest
	}
	c.JSON(http.StatusOK, body)
}

func cors(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	c.Header("Access-Control-Allow-Headers", "*")
	c.Header("Access-Control-Allow-Credentials", "true")
	if c.Request.Method == http.MethodOptions {
		c.AbortWithStatus(http.StatusNoContent)
		return
	}
	c.Next()
}

// Router returns the HTTP routes of the server.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), otelgin.Middleware("insurance-eligibility"), cors)
	router.SetHTMLTemplate(template.Must(template.New("index").Parse(indexHTML)))

	router.GET("/", s.handleIndex)
	router.POST("/", s.handleForm)
	if strings.Trim(s.basePath, "/") != "" {
		base := router.Group(s.basePath)
		base.GET("/", s.handleIndex)
		base.POST("/", s.handleForm)
	}

	router.POST("/api/predict", s.handlePredict)
	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	return router
}

const indexHTML = `<!DOCTYPE html>
<html>
<head><title>Vehicle Insurance Eligibility</title></head>
<body>
<h1>Vehicle Insurance Eligibility</h1>
<form method="post" action="{{.action}}">
<label>Gender <select name="Gender"><option value="Male">Male</option><option value="Female">Female</option></select></label>
<label>Age <input type="number" name="Age" required></label>
<label>Driving License <input type="number" name="Driving_License" min="0" max="1" required></label>
<label>Region Code <input type="number" step="any" name="Region_Code" required></label>
<label>Previously Insured <input type="number" name="Previously_Insured" min="0" max="1" required></label>
<label>Annual Premium <input type="number" step="any" name="Annual_Premium" required></label>
<label>Policy Sales Channel <input type="number" step="any" name="Policy_Sales_Channel" required></label>
<label>Vintage <input type="number" name="Vintage" required></label>
<label>Vehicle Age under 1 year <input type="number" name="Vehicle_Age_lt_1_Year" min="0" max="1" required></label>
<label>Vehicle Age over 2 years <input type="number" name="Vehicle_Age_gt_2_Years" min="0" max="1" required></label>
<label>Vehicle Damage <input type="number" name="Vehicle_Damage_Yes" min="0" max="1" required></label>
<button type="submit">Predict</button>
</form>
{{with .error}}<p class="error">{{.}}</p>{{end}}
{{with .context}}<h2 id="result">{{.}}</h2>{{end}}
</body>
</html>
`
