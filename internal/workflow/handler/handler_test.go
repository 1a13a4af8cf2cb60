package handler

import (
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"govconsent/internal/workflow/handler/mocks"
	"govconsent/internal/workflow/models"
	"govconsent/internal/workflow/service"
	"govconsent/pkg/domain"
	dErrors "govconsent/pkg/domain-errors"
	"govconsent/pkg/testutil"
)

type WorkflowHandlerSuite struct {
	suite.Suite
	router  http.Handler
	service *mocks.MockService
}

func TestWorkflowHandlerSuite(t *testing.T) {
	suite.Run(t, new(WorkflowHandlerSuite))
}

func (s *WorkflowHandlerSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.service = mocks.NewMockService(ctrl)
	r := chi.NewRouter()
	New(s.service, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)
	s.router = r
}

func sampleCase(status models.Status) *models.Case {
	now := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	return &models.Case{
		ID:                 domain.NewCaseID(),
		Type:               "loan",
		CitizenID:          "cit-1",
		ServiceID:          "svc-1",
		Status:             status,
		Purpose:            "Loan assessment",
		RequiredAttributes: []string{"tax_id"},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func (s *WorkflowHandlerSuite) TestCreate() {
	s.Run("maps the body onto the service input", func() {
		s.service.EXPECT().CreateCase(gomock.Any(),
			domain.Actor{ID: "svc-1", Role: domain.RoleServiceProvider},
			service.CreateInput{
				CitizenID:          "cit-1",
				Type:               "loan",
				Domain:             "finance",
				Purpose:            "Loan assessment",
				RequiredAttributes: []string{"tax_id"},
			},
		).Return(sampleCase(models.StatusSubmitted), nil)

		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/workflow/cases", map[string]any{
			"citizen_id":          " cit-1",
			"type":                "loan ",
			"domain":              "finance",
			"purpose":             "Loan assessment",
			"required_attributes": []string{"tax_id"},
		})
		rr := testutil.DoRequest(s.router, testutil.WithActor(req, "svc-1", domain.RoleServiceProvider))

		testutil.AssertStatus(s.T(), rr, http.StatusCreated)
		resp := testutil.UnmarshalResponse[models.Case](s.T(), rr)
		s.Equal(models.StatusSubmitted, resp.Status)
		s.Equal(domain.IdentityID("cit-1"), resp.CitizenID)
	})

	s.Run("insufficient consent is forbidden", func() {
		s.service.EXPECT().CreateCase(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeInsufficientConsent, "consent does not cover the required attributes"))

		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/workflow/cases", map[string]any{
			"citizen_id": "cit-1", "type": "loan", "purpose": "Loan assessment", "required_attributes": []string{"tax_id"},
		})
		rr := testutil.DoRequest(s.router, testutil.WithActor(req, "svc-1", domain.RoleServiceProvider))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, "insufficient_consent")
	})

	s.Run("malformed body never reaches the service", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/workflow/cases", map[string]any{
			"type": "loan", "priority": "high",
		})
		rr := testutil.DoRequest(s.router, testutil.WithActor(req, "cit-1", domain.RoleCitizen))
		testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
	})
}

func (s *WorkflowHandlerSuite) TestTransitions() {
	officer := domain.Actor{ID: "gov-1", Role: domain.RoleGovernment}

	s.Run("review", func() {
		c := sampleCase(models.StatusUnderReview)
		s.service.EXPECT().ReviewCase(gomock.Any(), officer, c.ID).Return(c, nil)

		req := testutil.NewRequest(s.T(), http.MethodPost, "/workflow/cases/"+c.ID.String()+"/review")
		rr := testutil.DoRequest(s.router, testutil.WithActor(req, "gov-1", domain.RoleGovernment))

		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		resp := testutil.UnmarshalResponse[models.Case](s.T(), rr)
		s.Equal(models.StatusUnderReview, resp.Status)
	})

	s.Run("illegal transition is a conflict", func() {
		id := domain.NewCaseID()
		s.service.EXPECT().ApproveCase(gomock.Any(), officer, id).
			Return(nil, dErrors.New(dErrors.CodeConflict, "cannot move case from SUBMITTED to APPROVED"))

		req := testutil.NewRequest(s.T(), http.MethodPost, "/workflow/cases/"+id.String()+"/approve")
		rr := testutil.DoRequest(s.router, testutil.WithActor(req, "gov-1", domain.RoleGovernment))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, "conflict")
	})

	s.Run("reject", func() {
		c := sampleCase(models.StatusRejected)
		s.service.EXPECT().RejectCase(gomock.Any(), officer, c.ID).Return(c, nil)

		req := testutil.NewRequest(s.T(), http.MethodPost, "/workflow/cases/"+c.ID.String()+"/reject")
		rr := testutil.DoRequest(s.router, testutil.WithActor(req, "gov-1", domain.RoleGovernment))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
	})

	s.Run("bad case id", func() {
		req := testutil.NewRequest(s.T(), http.MethodPost, "/workflow/cases/not-a-uuid/review")
		rr := testutil.DoRequest(s.router, testutil.WithActor(req, "gov-1", domain.RoleGovernment))
		testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
	})
}

func (s *WorkflowHandlerSuite) TestList() {
	s.service.EXPECT().ListCases(gomock.Any(), domain.Actor{ID: "cit-1", Role: domain.RoleCitizen}).
		Return([]*models.Case{sampleCase(models.StatusSubmitted), sampleCase(models.StatusApproved)}, nil)

	req := testutil.NewRequest(s.T(), http.MethodGet, "/workflow/cases")
	rr := testutil.DoRequest(s.router, testutil.WithActor(req, "cit-1", domain.RoleCitizen))

	testutil.AssertStatus(s.T(), rr, http.StatusOK)
	resp := testutil.UnmarshalResponse[listResponse](s.T(), rr)
	s.Equal(2, resp.Count)
	s.Len(resp.Cases, 2)
}
