package annotate

import (
	"context"
	"fmt"
)

// Err prefixes a backend error with the operation and key that failed. If
// ctx has finished, the reason is appended, since that is usually why the
// backend call failed. The result wraps both errors.
func Err(ctx context.Context, op string, key string, err error) error {
	if err == nil {
		return nil
	}

	ctxErr := ctx.Err()
	if ctxErr == nil {
		return fmt.Errorf("%s %s: %w", op, key, err)
	}

	return fmt.Errorf("%s %s: %w (%w)", op, key, err, ctxErr)
}
