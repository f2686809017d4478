package generate_itinerary

import (
	"gorm.io/gorm"

	"github.com/wandergen/wandergen-backend/internal/generation"
	"github.com/wandergen/wandergen-backend/internal/logger"
	"github.com/wandergen/wandergen-backend/internal/services"
	"github.com/wandergen/wandergen-backend/internal/types"
)

type Pipeline struct {
	db        *gorm.DB
	log       *logger.Logger
	retrieval services.RetrievalService
	gen       generation.Client
	bucket    services.BucketService
	// template is the workflow used when the job payload carries none.
	template generation.Payload
}

func New(
	db *gorm.DB,
	baseLog *logger.Logger,
	retrieval services.RetrievalService,
	gen generation.Client,
	bucket services.BucketService,
	template generation.Payload,
) *Pipeline {
	return &Pipeline{
		db:        db,
		log:       baseLog.With("job", types.JobTypeGenerateItinerary),
		retrieval: retrieval,
		gen:       gen,
		bucket:    bucket,
		template:  template,
	}
}

func (p *Pipeline) Type() string { return types.JobTypeGenerateItinerary }
