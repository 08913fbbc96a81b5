package train

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
)

// CSVLogger writes one "epoch,loss,tokens,seconds,val_loss,val_acc" row per
// epoch to w, starting with a header row. The val columns are empty without
// a validation set.
func CSVLogger(w io.Writer) EpochCallback {
	cw := csv.NewWriter(w)
	wroteHeader := false
	return func(_ context.Context, st EpochStats) error {
		if !wroteHeader {
			if err := cw.Write([]string{"epoch", "loss", "tokens", "seconds", "val_loss", "val_acc"}); err != nil {
				return err
			}
			wroteHeader = true
		}
		valLoss, valAcc := "", ""
		if st.Val != nil {
			valLoss = strconv.FormatFloat(st.Val.Loss, 'f', 6, 64)
			valAcc = strconv.FormatFloat(st.Val.Accuracy, 'f', 4, 64)
		}
		err := cw.Write([]string{
			strconv.Itoa(st.Epoch + 1),
			strconv.FormatFloat(st.Loss, 'f', 6, 64),
			strconv.Itoa(st.Tokens),
			strconv.FormatFloat(st.Duration.Seconds(), 'f', 3, 64),
			valLoss,
			valAcc,
		})
		if err != nil {
			return err
		}
		cw.Flush()
		return cw.Error()
	}
}
