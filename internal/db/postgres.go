package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/wandergen/wandergen-backend/internal/logger"
	"github.com/wandergen/wandergen-backend/internal/types"
	"github.com/wandergen/wandergen-backend/internal/utils"
)

type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPostgresService(log *logger.Logger) (*PostgresService, error) {
	serviceLog := log.With("service", "PostgresService")

	postgresHost := utils.GetEnv("POSTGRES_HOST", "localhost", log)
	postgresPort := utils.GetEnv("POSTGRES_PORT", "5432", log)
	postgresUser := utils.GetEnv("POSTGRES_USER", "postgres", log)
	postgresPassword := utils.GetEnv("POSTGRES_PASSWORD", "", log)
	postgresName := utils.GetEnv("POSTGRES_NAME", "wandergen", log)

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		postgresUser, postgresPassword, postgresHost, postgresPort, postgresName)

	serviceLog.Info("Connecting to Postgres...", "host", postgresHost, "db", postgresName)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}

	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		return nil, fmt.Errorf("failed to enable uuid-ossp extension: %w", err)
	}
	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS vector;`).Error; err != nil {
		return nil, fmt.Errorf("failed to enable pgvector extension: %w", err)
	}

	return &PostgresService{db: db, log: serviceLog}, nil
}

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating postgres tables...")
	err := s.db.AutoMigrate(
		&types.Job{},
		&types.JobLog{},
		&types.KnowledgeFile{},
		&types.KnowledgeChunk{},
		&types.KnowledgePack{},
		&types.KnowledgePackFile{},
	)
	if err != nil {
		return fmt.Errorf("auto migration failed: %w", err)
	}

	s.log.Info("Configuring foreign key relationships for postgres tables...")
	fks := []struct{ name, sql string }{
		{"fk_job_log_job_id", `
			ALTER TABLE "job_log"
			ADD CONSTRAINT "fk_job_log_job_id"
			FOREIGN KEY ("job_id") REFERENCES "job"("id")
			ON DELETE CASCADE`},
		{"fk_knowledge_chunk_file_id", `
			ALTER TABLE "knowledge_chunk"
			ADD CONSTRAINT "fk_knowledge_chunk_file_id"
			FOREIGN KEY ("file_id") REFERENCES "knowledge_file"("id")
			ON DELETE CASCADE`},
		{"fk_knowledge_pack_file_pack_id", `
			ALTER TABLE "knowledge_pack_file"
			ADD CONSTRAINT "fk_knowledge_pack_file_pack_id"
			FOREIGN KEY ("pack_id") REFERENCES "knowledge_pack"("id")
			ON DELETE CASCADE`},
		{"fk_knowledge_pack_file_file_id", `
			ALTER TABLE "knowledge_pack_file"
			ADD CONSTRAINT "fk_knowledge_pack_file_file_id"
			FOREIGN KEY ("file_id") REFERENCES "knowledge_file"("id")
			ON DELETE CASCADE`},
	}
	for _, fk := range fks {
		if err := s.db.Exec(fmt.Sprintf(
			`DO $$ BEGIN IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = '%s') THEN %s; END IF; END $$;`,
			fk.name, fk.sql,
		)).Error; err != nil {
			return fmt.Errorf("failed to add %s: %w", fk.name, err)
		}
	}

	// ANN index for the similarity operator. Lists sized for small-to-medium
	// corpora; pgvector falls back to exact scan when the index is absent.
	if err := s.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_knowledge_chunk_embedding
		ON knowledge_chunk USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)
	`).Error; err != nil {
		s.log.Warn("Failed to create ivfflat index; similarity search will use exact scan", "error", err)
	}
	return nil
}

func (s *PostgresService) DB() *gorm.DB {
	return s.db
}
