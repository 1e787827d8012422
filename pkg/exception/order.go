package exception

import "github.com/yanun0323/errors"

var (
	ErrOrderDuplicate     = errors.New("order: duplicate order id")
	ErrOrderUnknown       = errors.New("order: unknown order id")
	ErrOrderNotNew        = errors.New("order: submitted order must be NEW")
	ErrOrderNotCancelable = errors.New("order: not cancelable")
)
