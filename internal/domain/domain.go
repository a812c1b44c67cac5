package domain

import "time"

type AlertDirection string

const (
	DirectionLong  AlertDirection = "long"
	DirectionShort AlertDirection = "short"
	DirectionHold  AlertDirection = "hold"
)

// Alert sources: metric keys for threshold alerts, model keys for ML alerts.
const (
	AlertSourcePressure     = "whale_pressure"
	AlertSourceSentiment    = "market_sentiment"
	AlertSourceVolatility   = "volatility_index"
	AlertSourceCoordination = "coordination_score"
	AlertSourceMLLogReg     = "ml_logreg_next"
	AlertSourceMLXGBoost    = "ml_xgboost_next"
	AlertSourceMLEnsemble   = "ml_ensemble_next"
)

type Alert struct {
	ID        int64          `json:"id"`
	Symbol    string         `json:"symbol"`
	Interval  string         `json:"interval"`
	Source    string         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
	Risk      RiskLevel      `json:"risk"`
	Direction AlertDirection `json:"direction"`
	Details   string         `json:"details,omitempty"`
}

type AlertFilter struct {
	Symbol string
	Source string
	Limit  int
}

type RiskLevel int

const (
	RiskLevel1 RiskLevel = 1
	RiskLevel2 RiskLevel = 2
	RiskLevel3 RiskLevel = 3
	RiskLevel4 RiskLevel = 4
	RiskLevel5 RiskLevel = 5
)

func (r RiskLevel) IsValid() bool {
	return r >= RiskLevel1 && r <= RiskLevel5
}

type ConversationMessage struct {
	Role      string
	Content   string
	CreatedAt time.Time
}

type MLFeatureRow struct {
	Symbol          string
	Interval        string
	OpenTime        time.Time
	Ret1            float64
	Ret4            float64
	Ret12           float64
	Volatility      float64
	Sentiment       float64
	Pressure        float64
	LiquidityChange float64
	Coordination    float64
	WhaleVolumeZ    float64
	EventCountZ     float64
	TargetUpNext    *bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type MLModelVersion struct {
	ID                 int64
	ModelKey           string
	Version            int
	FeatureSpecVersion string
	TrainedFrom        time.Time
	TrainedTo          time.Time
	TrainedAt          time.Time
	HyperparamsJSON    string
	MetricsJSON        string
	ArtifactFormat     string
	ArtifactBlob       []byte
	IsActive           bool
	ActivatedAt        *time.Time
	CreatedAt          time.Time
}

type MLPrediction struct {
	ID             int64          `json:"id"`
	Symbol         string         `json:"symbol"`
	Interval       string         `json:"interval"`
	OpenTime       time.Time      `json:"open_time"`
	TargetTime     time.Time      `json:"target_time"`
	ModelKey       string         `json:"model_key"`
	ModelVersion   int            `json:"model_version"`
	ProbUp         float64        `json:"prob_up"`
	Confidence     float64        `json:"confidence"`
	Direction      AlertDirection `json:"direction"`
	Risk           RiskLevel      `json:"risk"`
	AlertID        *int64         `json:"alert_id,omitempty"`
	DetailsJSON    string         `json:"-"`
	CreatedAt      time.Time      `json:"created_at"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
	ActualUp       *bool          `json:"actual_up,omitempty"`
	IsCorrect      *bool          `json:"is_correct,omitempty"`
	RealizedReturn *float64       `json:"realized_return,omitempty"`
}
