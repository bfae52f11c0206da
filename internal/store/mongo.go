package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore keeps jobs, offers and counter-offers in three collections and
// commits transitions inside a multi-document transaction. It requires a
// replica set or sharded cluster.
type MongoStore struct {
	client        *mongo.Client
	jobs          *mongo.Collection
	offers        *mongo.Collection
	counterOffers *mongo.Collection
}

func NewMongoStore(client *mongo.Client, dbName string) *MongoStore {
	db := client.Database(dbName)
	return &MongoStore{
		client:        client,
		jobs:          db.Collection("jobs"),
		offers:        db.Collection("offers"),
		counterOffers: db.Collection("counter_offers"),
	}
}

func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	if _, err := s.offers.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "job_id", Value: 1}, {Key: "created_at", Value: 1}},
	}); err != nil {
		return fmt.Errorf("offers index: %w", err)
	}
	if _, err := s.counterOffers.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "offer_id", Value: 1}, {Key: "created_at", Value: 1}, {Key: "_id", Value: 1}},
	}); err != nil {
		return fmt.Errorf("counter_offers index: %w", err)
	}
	if _, err := s.jobs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "payment_pending", Value: 1},
			{Key: "payment.status", Value: 1},
			{Key: "payment.next_attempt_at", Value: 1},
		},
	}); err != nil {
		return fmt.Errorf("jobs index: %w", err)
	}
	return nil
}

func (s *MongoStore) GetJob(ctx context.Context, jobID string) (model.Job, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var job model.Job
	err := s.jobs.FindOne(ctx, bson.M{"_id": jobID}).Decode(&job)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return model.Job{}, notFoundf("job %s", jobID)
		}
		return model.Job{}, err
	}
	return job, nil
}

func (s *MongoStore) GetOffer(ctx context.Context, offerID string) (model.Offer, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var offer model.Offer
	err := s.offers.FindOne(ctx, bson.M{"_id": offerID}).Decode(&offer)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return model.Offer{}, notFoundf("offer %s", offerID)
		}
		return model.Offer{}, err
	}
	return offer, nil
}

func (s *MongoStore) ListOffersForJob(ctx context.Context, jobID string) ([]model.Offer, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.offers.Find(ctx, bson.M{"job_id": jobID}, opts)
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.Close(ctx) }()

	var offers []model.Offer
	if err := cur.All(ctx, &offers); err != nil {
		return nil, err
	}
	return offers, nil
}

func (s *MongoStore) ListCounterOffers(ctx context.Context, offerID string) ([]model.CounterOffer, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.counterOffers.Find(ctx, bson.M{"offer_id": offerID}, opts)
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.Close(ctx) }()

	var thread []model.CounterOffer
	for cur.Next(ctx) {
		var co model.CounterOffer
		if err := cur.Decode(&co); err != nil {
			return nil, err
		}
		thread = append(thread, co)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return thread, nil
}

func (s *MongoStore) ListJobsAwaitingPayment(ctx context.Context, now time.Time, limit int) ([]model.Job, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{
		"payment_pending":         true,
		"payment.status":          bson.M{"$in": sweepStatuses},
		"payment.next_attempt_at": bson.M{"$lte": now},
	}
	opts := options.Find().SetSort(bson.D{{Key: "payment.next_attempt_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.jobs.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.Close(ctx) }()

	var jobs []model.Job
	if err := cur.All(ctx, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (s *MongoStore) ApplyTransition(ctx context.Context, tx *Transition) error {
	if err := checkDistinct(tx); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)

	// The callback may run more than once on transient errors, so it must
	// not touch tx until the commit has succeeded.
	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		for _, j := range tx.Jobs {
			next := j.Clone()
			next.Version = j.Version + 1
			if err := putVersioned(sc, s.jobs, "job", j.ID, j.Version, next); err != nil {
				return nil, err
			}
		}
		for _, o := range tx.Offers {
			next := o.Clone()
			next.Version = o.Version + 1
			if err := putVersioned(sc, s.offers, "offer", o.ID, o.Version, next); err != nil {
				return nil, err
			}
		}
		for _, c := range tx.CounterOffers {
			if err := s.appendCounterOffer(sc, tx, c); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return err
	}

	advance(tx)
	return nil
}

func (s *MongoStore) appendCounterOffer(ctx context.Context, tx *Transition, c model.CounterOffer) error {
	inTx := false
	for _, o := range tx.Offers {
		if o.ID == c.OfferID {
			inTx = true
			break
		}
	}
	if !inTx {
		n, err := s.offers.CountDocuments(ctx, bson.M{"_id": c.OfferID})
		if err != nil {
			return err
		}
		if n == 0 {
			return conflictf("counter-offer %s references unknown offer %s", c.ID, c.OfferID)
		}
	}
	if _, err := s.counterOffers.InsertOne(ctx, c); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return conflictf("counter-offer %s already exists", c.ID)
		}
		return err
	}
	return nil
}

// putVersioned inserts doc when version is 0 and otherwise replaces the
// stored document only if it still carries version.
func putVersioned(ctx context.Context, coll *mongo.Collection, kind, id string, version int64, doc any) error {
	if version == 0 {
		if _, err := coll.InsertOne(ctx, doc); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return conflictf("%s %s already exists", kind, id)
			}
			return err
		}
		return nil
	}
	res, err := coll.ReplaceOne(ctx, bson.M{"_id": id, "version": version}, doc)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return conflictf("%s %s is no longer at version %d", kind, id, version)
	}
	return nil
}

func (s *MongoStore) Close() error {
	// MongoDB client is shared, no need to close here
	return nil
}
