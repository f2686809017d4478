package index_knowledge

import (
	"gorm.io/gorm"

	"github.com/wandergen/wandergen-backend/internal/chunker"
	"github.com/wandergen/wandergen-backend/internal/embeddings"
	"github.com/wandergen/wandergen-backend/internal/logger"
	"github.com/wandergen/wandergen-backend/internal/repos"
	"github.com/wandergen/wandergen-backend/internal/services"
	"github.com/wandergen/wandergen-backend/internal/types"
)

const (
	embedBatchSize   = 64
	embedConcurrency = 4
	insertBatchSize  = 100
)

type Pipeline struct {
	db       *gorm.DB
	log      *logger.Logger
	files    repos.KnowledgeFileRepo
	chunks   repos.KnowledgeChunkRepo
	bucket   services.BucketService
	extract  services.ExtractionService
	splitter *chunker.Chunker
	provider embeddings.Provider
}

func New(
	db *gorm.DB,
	baseLog *logger.Logger,
	files repos.KnowledgeFileRepo,
	chunks repos.KnowledgeChunkRepo,
	bucket services.BucketService,
	extract services.ExtractionService,
	splitter *chunker.Chunker,
	provider embeddings.Provider,
) *Pipeline {
	return &Pipeline{
		db:       db,
		log:      baseLog.With("job", types.JobTypeIndexKnowledge),
		files:    files,
		chunks:   chunks,
		bucket:   bucket,
		extract:  extract,
		splitter: splitter,
		provider: provider,
	}
}

func (p *Pipeline) Type() string { return types.JobTypeIndexKnowledge }
