package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"civic/internal/offices/models"
	id "civic/pkg/domain"
	"civic/pkg/platform/sentinel"
)

// seedNamespace derives stable office IDs so reseeding a database is a no-op.
var seedNamespace = uuid.MustParse("6f1c1f0e-58d4-4d0e-9b57-3c1f3f6a2a11")

type SeedOffice struct {
	Title        string
	Jurisdiction string
	District     string
}

// DemoOffices is the development catalogue.
var DemoOffices = []SeedOffice{
	{Title: "State Senator", Jurisdiction: "California", District: "District 15"},
	{Title: "State Senator", Jurisdiction: "California", District: "District 16"},
	{Title: "State Assembly Member", Jurisdiction: "California", District: "District 24"},
	{Title: "Mayor", Jurisdiction: "San Jose"},
	{Title: "City Council Member", Jurisdiction: "San Jose", District: "District 3"},
	{Title: "County Supervisor", Jurisdiction: "Santa Clara County", District: "District 2"},
	{Title: "Governor", Jurisdiction: "Oregon"},
	{Title: "Mayor", Jurisdiction: "Portland"},
	{Title: "School Board Trustee", Jurisdiction: "Austin ISD", District: "District 5"},
	{Title: "U.S. Representative", Jurisdiction: "Texas", District: "District 37"},
}

type Saver interface {
	Save(ctx context.Context, office *models.GovernmentOffice) error
}

// SeedOfficeID is the ID Seed assigns to o.
func SeedOfficeID(o SeedOffice) id.OfficeID {
	return id.OfficeID(uuid.NewSHA1(seedNamespace, []byte(o.Title+"|"+o.Jurisdiction+"|"+o.District)))
}

// Seed saves offices that are not there yet and returns how many were
// added.
func Seed(ctx context.Context, s Saver, offices []SeedOffice, now time.Time) (int, error) {
	added := 0
	for _, o := range offices {
		office, err := models.NewGovernmentOffice(SeedOfficeID(o), o.Title, o.Jurisdiction, o.District, now)
		if err != nil {
			return added, err
		}
		if err := s.Save(ctx, office); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				continue
			}
			return added, err
		}
		added++
	}
	return added, nil
}
