package postgresql

import (
	"fmt"
	"math"
)

// amountColumn converts a uint64 amount for a BIGINT column, rejecting values
// the column cannot hold rather than letting the conversion wrap negative.
func amountColumn(column string, value uint64) (int64, error) {
	if value > math.MaxInt64 {
		return 0, fmt.Errorf("%s value %d exceeds the bigint range", column, value)
	}

	return int64(value), nil
}
