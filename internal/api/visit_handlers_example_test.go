package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"

	"go.uber.org/zap"

	memstore "github.com/JakeFAU/webcat-crawler/internal/store/memory"
	"github.com/JakeFAU/webcat-crawler/internal/visit"
)

func ExampleVisitHandler_ListDates() {
	store := memstore.New()
	for _, d := range []string{"2015-01-01", "2010-01-01"} {
		if _, err := store.Upsert(context.Background(), visit.Record{URL: "https://lib.example.edu", Date: d}); err != nil {
			panic(err)
		}
	}
	handler := NewVisitHandler(store, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/v1/visits?url=https://lib.example.edu", nil)
	rec := httptest.NewRecorder()
	handler.ListDates(rec, req)

	fmt.Println(rec.Code)
	fmt.Print(rec.Body.String())
	// Output:
	// 200
	// {"dates":["2010-01-01","2015-01-01"],"total":2,"url":"https://lib.example.edu"}
}
