package dashboard

import (
	"strings"
	"testing"

	"github.com/coviddash/dashboard/internal/domain/patient"
)

// tenCSV has 3 deaths out of 10 patients, ages 20,20,30,30,30,40,50,60,70,80
// and one blank cell in each comorbidity column.
const tenCSV = `USMER,SEX,PATIENT_TYPE,DATE_DIED,AGE,DIABETES,HIPERTENSION,OBESITY
1,1,1,9999-99-99,20,2,2,2
1,0,1,9999-99-99,20,2,2,2
1,1,2,2020-04-01,30,1,2,2
2,0,2,01/04/2020,30,2,1,2
2,1,1,9999-99-99,30,2,2,1
2,0,1,2020-03-15,40,1,1,
1,1,1,9999-99-99,50,2,,2
2,0,2,9999-99-99,60,,2,2
1,1,1,9999-99-99,70,2,2,2
2,0,2,9999-99-99,80,2,2,2
`

func loadTen(t *testing.T) *patient.Table {
	t.Helper()
	tbl, err := patient.ReadCSV(strings.NewReader(tenCSV), patient.DefaultLoadOptions())
	if err != nil {
		t.Fatalf("ReadCSV() error: %v", err)
	}
	return tbl
}

func columnIndex(cm CorrelationMatrix, name string) int {
	for i, c := range cm.Columns {
		if c == name {
			return i
		}
	}
	return -1
}
