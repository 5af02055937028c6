package gazette

import "time"

// Webhook event types derivable from an analysis result.
const (
	EventGazetteAnalyzed   = "gazette.analyzed"
	EventConcursoDetected  = "concurso.detected"
	EventLicitacaoDetected = "licitacao.detected"
)

// AuthKind selects how a subscription authenticates its deliveries.
type AuthKind string

// Subscription auth kinds.
const (
	AuthBearer AuthKind = "bearer"
	AuthBasic  AuthKind = "basic"
	AuthCustom AuthKind = "custom"
)

// SubscriptionAuth holds the credentials attached to outgoing deliveries.
// Exactly the fields for the chosen kind are set: Token for bearer,
// Username/Password for basic, Header/Value for custom.
type SubscriptionAuth struct {
	Kind     AuthKind `json:"kind"`
	Token    string   `json:"token,omitempty"`
	Username string   `json:"username,omitempty"`
	Password string   `json:"password,omitempty"`
	Header   string   `json:"header,omitempty"`
	Value    string   `json:"value,omitempty"`
}

// SubscriptionFilters narrow which analysis results a subscription receives.
// Empty fields do not filter. List fields match when any element matches.
type SubscriptionFilters struct {
	Categories      []string `json:"categories,omitempty"`
	Keywords        []string `json:"keywords,omitempty"`
	Territories     []string `json:"territories,omitempty"`
	Spiders         []string `json:"spiders,omitempty"`
	MinConfidence   float64  `json:"minConfidence,omitempty"`
	RequireConcurso bool     `json:"requireConcurso,omitempty"`
}

// RetryPolicy overrides the delivery retry defaults per subscription.
type RetryPolicy struct {
	MaxAttempts int `json:"maxAttempts,omitempty"`
	BackoffMS   int `json:"backoffMs,omitempty"`
}

// Subscription is one registered webhook endpoint. MaxDeliveries nil means
// the subscription receives deliveries forever; a value caps the count of
// successful deliveries, after which the subscription goes quiet.
type Subscription struct {
	ID            string              `json:"id"`
	URL           string              `json:"url"`
	Events        []string            `json:"events"`
	Filters       SubscriptionFilters `json:"filters"`
	Auth          *SubscriptionAuth   `json:"auth,omitempty"`
	Retry         RetryPolicy         `json:"retry"`
	MaxDeliveries *int                `json:"maxDeliveries,omitempty"`
	Active        bool                `json:"active"`
	CreatedAt     time.Time           `json:"createdAt"`
	UpdatedAt     time.Time           `json:"updatedAt"`
}

// WantsEvent reports whether the subscription listens for the given event.
func (s *Subscription) WantsEvent(event string) bool {
	for _, e := range s.Events {
		if e == event {
			return true
		}
	}

	return false
}

// DeliveryStatus is the outcome state of one webhook delivery attempt chain.
type DeliveryStatus string

// Delivery statuses.
const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryRetry   DeliveryStatus = "retry"
	DeliveryFailed  DeliveryStatus = "failed"
)

// Delivery is the audit record of one event delivered to one
// subscription: final status, the endpoint's last response, and how
// long the winning attempt took.
type Delivery struct {
	ID             int64          `json:"id"`
	SubscriptionID string         `json:"subscriptionId"`
	Event          string         `json:"event"`
	AnalysisID     string         `json:"analysisId"`
	Status         DeliveryStatus `json:"status"`
	Attempts       int            `json:"attempts"`
	StatusCode     int            `json:"statusCode,omitempty"`
	ResponseBody   string         `json:"responseBody,omitempty"`
	DeliveryTimeMS int64          `json:"deliveryTimeMs,omitempty"`
	LastError      string         `json:"lastError,omitempty"`
	DeliveredAt    *time.Time     `json:"deliveredAt,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}
