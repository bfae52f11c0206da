package testutil

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DefaultMongoURI targets a single-node replica set; transitions use
// multi-document transactions, which a standalone server rejects.
const DefaultMongoURI = "mongodb://localhost:27017/?replicaSet=rs0&directConnection=true"

var dbSeq atomic.Int64

// MongoDB connects to MONGO_TEST_URI (or DefaultMongoURI) and returns the
// client with a database name unique to this test. The test is skipped when
// no server answers; the database is dropped on cleanup.
func MongoDB(t *testing.T) (*mongo.Client, string) {
	t.Helper()

	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		uri = DefaultMongoURI
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Skipf("MongoDB not available: %v", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		t.Skipf("MongoDB not responding at %s: %v", uri, err)
	}

	dbName := fmt.Sprintf("negotiation_test_%d_%d", time.Now().UnixNano(), dbSeq.Add(1))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Database(dbName).Drop(ctx); err != nil {
			t.Logf("drop %s: %v", dbName, err)
		}
		_ = client.Disconnect(ctx)
	})
	return client, dbName
}

// FirestoreEmulator returns the project to use against the emulator at
// FIRESTORE_EMULATOR_HOST and a collection prefix unique to this test. The
// test is skipped when the variable is unset.
func FirestoreEmulator(t *testing.T) (string, string) {
	t.Helper()
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	project := os.Getenv("FIRESTORE_TEST_PROJECT")
	if project == "" {
		project = "negotiation-test"
	}
	return project, fmt.Sprintf("test_%d_%d_", time.Now().UnixNano(), dbSeq.Add(1))
}

func fail(t *testing.T, msg string, msgAndArgs []interface{}) {
	t.Helper()
	if len(msgAndArgs) > 0 {
		msg += " - " + fmt.Sprint(msgAndArgs...)
	}
	t.Fatal(msg)
}

// AssertNoError fails the test if err is not nil
func AssertNoError(t *testing.T, err error, msgAndArgs ...interface{}) {
	t.Helper()
	if err != nil {
		fail(t, fmt.Sprintf("Expected no error, got: %v", err), msgAndArgs)
	}
}

// AssertErrorIs fails the test unless err wraps target
func AssertErrorIs(t *testing.T, err, target error, msgAndArgs ...interface{}) {
	t.Helper()
	if !errors.Is(err, target) {
		fail(t, fmt.Sprintf("Expected error %v, got %v", target, err), msgAndArgs)
	}
}

// AssertEqual compares with == for comparable values and falls back to
// reflect.DeepEqual for slices, maps and structs holding them.
func AssertEqual(t *testing.T, expected, actual interface{}, msgAndArgs ...interface{}) {
	t.Helper()
	var equal bool
	if expected != nil && actual != nil &&
		reflect.TypeOf(expected).Comparable() && reflect.TypeOf(actual).Comparable() {
		equal = expected == actual
	} else {
		equal = reflect.DeepEqual(expected, actual)
	}
	if !equal {
		fail(t, fmt.Sprintf("Expected %v, got %v", expected, actual), msgAndArgs)
	}
}

// AssertTrue fails the test if condition is false
func AssertTrue(t *testing.T, condition bool, msgAndArgs ...interface{}) {
	t.Helper()
	if !condition {
		fail(t, "Expected true, got false", msgAndArgs)
	}
}

// AssertAmount compares decimal strings by value, so "4800" matches "4800.00".
func AssertAmount(t *testing.T, expected, actual string, msgAndArgs ...interface{}) {
	t.Helper()
	want, err := decimal.NewFromString(expected)
	if err != nil {
		t.Fatalf("bad expected amount %q: %v", expected, err)
	}
	got, err := decimal.NewFromString(actual)
	if err != nil || !got.Equal(want) {
		fail(t, fmt.Sprintf("Expected amount %s, got %q", expected, actual), msgAndArgs)
	}
}
