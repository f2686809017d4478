package export_pack

import (
	"gorm.io/gorm"

	"github.com/wandergen/wandergen-backend/internal/logger"
	"github.com/wandergen/wandergen-backend/internal/repos"
	"github.com/wandergen/wandergen-backend/internal/services"
	"github.com/wandergen/wandergen-backend/internal/types"
)

type Pipeline struct {
	db     *gorm.DB
	log    *logger.Logger
	packs  repos.KnowledgePackRepo
	files  repos.KnowledgeFileRepo
	chunks repos.KnowledgeChunkRepo
	bucket services.BucketService
}

func New(
	db *gorm.DB,
	baseLog *logger.Logger,
	packs repos.KnowledgePackRepo,
	files repos.KnowledgeFileRepo,
	chunks repos.KnowledgeChunkRepo,
	bucket services.BucketService,
) *Pipeline {
	return &Pipeline{
		db:     db,
		log:    baseLog.With("job", types.JobTypeExportPack),
		packs:  packs,
		files:  files,
		chunks: chunks,
		bucket: bucket,
	}
}

func (p *Pipeline) Type() string { return types.JobTypeExportPack }
