package jobrun

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestStartRequiresClientAndJobID(t *testing.T) {
	if err := Start(context.Background(), nil, "queue", uuid.New()); err == nil {
		t.Fatal("expected error without a temporal client")
	}
}
