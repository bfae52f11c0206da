package model

// DeriveJobStatus computes a job's status from its closed flag and the
// statuses of its offers. Offers belonging to other jobs are ignored.
func DeriveJobStatus(job Job, offers []Offer) JobStatus {
	var ongoing, negotiating bool
	for _, o := range offers {
		if o.JobID != job.ID {
			continue
		}
		switch o.Status {
		case OfferStatusCompleted:
			return JobStatusCompleted
		case OfferStatusOngoing:
			ongoing = true
		case OfferStatusNegotiating:
			negotiating = true
		case OfferStatusPending, OfferStatusWithdrawn:
		}
	}
	switch {
	case ongoing:
		return JobStatusOngoing
	case job.ClosedAt != nil:
		return JobStatusClosed
	case negotiating:
		return JobStatusNegotiating
	default:
		return JobStatusOpen
	}
}

// AcceptedOffer returns the single accepted offer among offers, if any.
func AcceptedOffer(offers []Offer) (Offer, bool) {
	for _, o := range offers {
		if o.Accepted {
			return o, true
		}
	}
	return Offer{}, false
}
