package model

// Command payloads. IfVersion, when non-zero, is the job version the caller
// last observed; the command fails with ErrConflict if the job has moved on.

type PostJobRequest struct {
	CategoryID  string `json:"category_id"`
	Description string `json:"description"`
	Address     string `json:"address"`
}

type SubmitOfferRequest struct {
	JobID       string `json:"job_id"`
	Price       string `json:"price"`
	Description string `json:"description"`
	IfVersion   int64  `json:"if_version,omitempty"`
}

type EditOfferRequest struct {
	OfferID     string `json:"offer_id"`
	Price       string `json:"price"`
	Description string `json:"description"`
	IfVersion   int64  `json:"if_version,omitempty"`
}

type CounterOfferRequest struct {
	OfferID     string `json:"offer_id"`
	Price       string `json:"price"`
	Description string `json:"description"`
	IfVersion   int64  `json:"if_version,omitempty"`
}

type AcceptOfferRequest struct {
	OfferID       string `json:"offer_id"`
	PaymentMethod string `json:"payment_method"`
	IfVersion     int64  `json:"if_version,omitempty"`
}

// OfferRequest addresses an offer without further payload
// (StartNegotiation, WithdrawOffer).
type OfferRequest struct {
	OfferID   string `json:"offer_id"`
	IfVersion int64  `json:"if_version,omitempty"`
}

// JobRequest addresses a job without further payload
// (CompleteJob, CloseJob, ReopenJob).
type JobRequest struct {
	JobID     string `json:"job_id"`
	IfVersion int64  `json:"if_version,omitempty"`
}

type RetryPaymentRequest struct {
	JobID  string `json:"job_id"`
	Method string `json:"method,omitempty"`
}

type RatingRequest struct {
	JobID   string `json:"job_id"`
	Score   int    `json:"score"`
	Comment string `json:"comment,omitempty"`
}

// SettlementNotice is delivered by the wallet collaborator once a checkout
// session has settled or failed.
type SettlementNotice struct {
	JobID     string `json:"job_id"`
	Reference string `json:"reference"`
	Success   bool   `json:"success"`
	Reason    string `json:"reason,omitempty"`
}

// Snapshot is the result of a command: the job and, where relevant, the offer
// and counter-offer it touched.
type Snapshot struct {
	Job          Job           `json:"job"`
	Offer        *Offer        `json:"offer,omitempty"`
	CounterOffer *CounterOffer `json:"counter_offer,omitempty"`
	PaymentError string        `json:"payment_error,omitempty"`
}
