package container

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/lexibase/lexibase/cmd/lexibase/repository"
	"github.com/lexibase/lexibase/cmd/lexibase/service"
	"github.com/lexibase/lexibase/common/bootstrap"
	"github.com/lexibase/lexibase/common/db"
	"github.com/lexibase/lexibase/common/models"
)

// Container holds all initialized services and repositories (singleton pattern)
type Container struct {
	Components *bootstrap.Components

	Staging *service.StagingService
	Commit  *service.CommitService
	Bulk    *service.BulkService
	Review  *service.ReviewService
	Policy  *service.PolicyService
}

// NewContainer initializes all services once
func NewContainer(components *bootstrap.Components) (*Container, error) {
	uow := &unitOfWork{db: components.DB}
	log := components.Logger

	staging := service.NewStagingService(uow, log)
	cascade := service.NewCascadeService(log)
	commit := service.NewCommitService(uow, cascade, log)
	bulk := service.NewBulkService(uow, commit, components.Config.Review.BulkCommitLimit, log)
	review := service.NewReviewService(uow, components.Redis, log)
	policy := service.NewPolicyService(uow, components.Config.Review.AutoApprovePolicy, log)

	return &Container{
		Components: components,
		Staging:    staging,
		Commit:     commit,
		Bulk:       bulk,
		Review:     review,
		Policy:     policy,
	}, nil
}

// newStores binds every repository to one Querier: the pool for reads or a
// transaction for commits.
func newStores(q db.Querier) service.Stores {
	return service.Stores{
		Changesets:   repository.NewChangesetRepository(q),
		FieldChanges: repository.NewFieldChangeRepository(q),
		Audit:        repository.NewAuditLogRepository(q),
		Comments:     repository.NewCommentRepository(q),
		RoleTypes:    repository.NewRoleTypeRepository(q),
		FrameRoles:   repository.NewFrameRoleRepository(q),
		Entities: func(t models.EntityType) (service.EntityStore, error) {
			return repository.NewEntityStore(q, t)
		},
	}
}

// unitOfWork adapts db.InTx to the service layer's transaction contract.
type unitOfWork struct {
	db *db.DB
}

func (u *unitOfWork) Run(ctx context.Context, fn func(service.Stores) error) error {
	return u.db.InTx(ctx, func(tx pgx.Tx) error {
		return fn(newStores(tx))
	})
}

func (u *unitOfWork) View() service.Stores {
	return newStores(u.db.Pool)
}
