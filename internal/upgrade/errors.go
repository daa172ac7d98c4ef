package upgrade

import (
	"upgrader/internal/apperrors"
	"upgrader/internal/pipeline"
)

// OutcomeError maps a failed outcome to an apperrors error carrying its
// message. It returns nil for a successful outcome.
func OutcomeError(out pipeline.Outcome) error {
	if out.OK {
		return nil
	}
	switch out.Kind {
	case pipeline.KindValidation:
		return apperrors.Validation("version", out.Message)
	case pipeline.KindNotFound:
		return apperrors.NotFoundMessage("tag", out.Message)
	case pipeline.KindConflict:
		return apperrors.Conflict("upgrade", out.Message)
	case pipeline.KindDirty:
		return apperrors.Precondition("repository", out.Message)
	case pipeline.KindStep:
		return apperrors.Failed("upgrade."+out.Step, out.Message)
	default:
		return apperrors.Failed("upgrade", out.Message)
	}
}
