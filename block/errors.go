package block

import "errors"

var (
	errMismatchedForkProofCoords = errors.New("block: fork proof headers are not at the same (block_number, view_number)")
	errIdenticalForkProofHeaders = errors.New("block: fork proof headers are identical, not a fork")
)
