package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/class-scheduler-api/internal/models"
	"github.com/noah-isme/class-scheduler-api/internal/repository"
	"github.com/noah-isme/class-scheduler-api/internal/scenario"
	"github.com/noah-isme/class-scheduler-api/internal/service"
)

type pipeline struct {
	scenario *scenario.Scenario
	runs     *service.SchedulingRunService
	recs     *service.RecommendationService
}

func loadPipeline(logger *zap.Logger) (*pipeline, error) {
	if scenarioPath == "" {
		return nil, errors.New("--scenario is required")
	}
	sc, err := scenario.Load(scenarioPath)
	if err != nil {
		return nil, err
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("scenario %s is invalid:\n%w", scenarioPath, err)
	}
	directory, store, err := sc.Build()
	if err != nil {
		return nil, err
	}

	var opts []service.SchedulingRunOption
	var recOpts []service.RecommendationServiceOption
	if !sc.Now.IsZero() {
		now := sc.Now.UTC()
		clock := func() time.Time { return now }
		opts = append(opts, service.WithRunClock(clock))
		recOpts = append(recOpts, service.WithRecommendationClock(clock))
	}
	validate := validator.New()
	overrides := service.NewOverrideService(store, validate, logger)
	recOpts = append(recOpts, service.WithRecommendationLifecycle(overrides))
	recs := service.NewRecommendationService(repository.NewMemoryRecommendationRepository(), logger, recOpts...)
	runs := service.NewSchedulingRunService(directory, store, recs, validate, logger, service.SchedulingRunConfig{
		Weights: service.DefaultGoalWeights(),
	}, opts...)
	return &pipeline{scenario: sc, runs: runs, recs: recs}, nil
}

func newRunCommand() *cobra.Command {
	var (
		iterations int
		course     string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute the scenario's runs and print each SchedulingResult",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			defer logger.Sync() //nolint:errcheck

			p, err := loadPipeline(logger)
			if err != nil {
				return err
			}
			planned := p.scenario.Runs
			if course != "" {
				planned = []scenario.RunSpec{{CourseType: course}}
			}
			if len(planned) == 0 {
				return errors.New("scenario declares no runs; pass --course")
			}

			results := make([]*models.SchedulingResult, 0, len(planned))
			for i, entry := range planned {
				req := entry.Request()
				if iterations > 0 {
					req.IterationBudget = iterations
				}
				result, err := p.runs.RunOnce(cmd.Context(), req, service.RunOptions{
					RunID: fmt.Sprintf("%s-run-%d", scenarioSlug(p.scenario), i+1),
				})
				if err != nil {
					return fmt.Errorf("runs[%d] (%s): %w", i, req.CourseType, err)
				}
				results = append(results, result)
			}
			if len(results) == 1 {
				return printJSON(cmd.OutOrStdout(), results[0])
			}
			return printJSON(cmd.OutOrStdout(), results)
		},
	}
	cmd.Flags().IntVarP(&iterations, "iterations", "n", 0, "Override the iteration budget of every run")
	cmd.Flags().StringVarP(&course, "course", "c", "", "Run one course type with default constraints instead of the scenario runs")
	return cmd
}

func newConflictsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "conflicts",
		Short: "Detect conflicts in the scenario's classes and print them with resolutions",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			defer logger.Sync() //nolint:errcheck

			p, err := loadPipeline(logger)
			if err != nil {
				return err
			}
			conflicts, err := p.runs.Conflicts(cmd.Context())
			if err != nil {
				return err
			}
			if conflicts == nil {
				conflicts = []models.SchedulingConflict{}
			}
			return printJSON(cmd.OutOrStdout(), conflicts)
		},
	}
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check scenario integrity",
		RunE: func(cmd *cobra.Command, args []string) error {
			if scenarioPath == "" {
				return errors.New("--scenario is required")
			}
			sc, err := scenario.Load(scenarioPath)
			if err != nil {
				return err
			}
			if err := sc.Validate(); err != nil {
				return fmt.Errorf("scenario %s is invalid:\n%w", scenarioPath, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scenario %q is valid: %d courses, %d teachers, %d slots, %d students, %d runs\n",
				sc.Name, len(sc.Courses), len(sc.Teachers), len(sc.Slots), len(sc.Students), len(sc.Runs))
			return nil
		},
	}
}

func newTokenCommand() *cobra.Command {
	var (
		secret string
		userID string
		email  string
		role   string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token for local testing of the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			verifier := service.NewTokenVerifier(secret)
			token, err := verifier.Issue(models.JWTClaims{
				UserID: userID,
				Email:  email,
				Role:   models.UserRole(role),
			}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "dev_secret", "HS256 secret shared with the API (JWT_SECRET)")
	cmd.Flags().StringVar(&userID, "user", "local-operator", "User id placed in the token")
	cmd.Flags().StringVar(&email, "email", "", "Email placed in the token")
	cmd.Flags().StringVar(&role, "role", string(models.RoleAdmin), "Role: SUPERADMIN, ADMIN, COORDINATOR or TEACHER")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}

func scenarioSlug(sc *scenario.Scenario) string {
	if sc.Name == "" {
		return "scenario"
	}
	return sc.Name
}
