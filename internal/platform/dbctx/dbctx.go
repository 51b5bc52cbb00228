// Package dbctx carries a request-scoped context alongside an optional
// open transaction, the same small seam the teacher stack uses
// (internal/platform/dbctx) so repositories can run inside a caller's
// transaction without threading *gorm.DB through every signature.
package dbctx

import (
	"context"

	"gorm.io/gorm"
)

type Context struct {
	Ctx context.Context
	Tx  *gorm.DB
}
