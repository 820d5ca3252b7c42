package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"quizroom-service/internal/app"
	"quizroom-service/internal/config"
	"quizroom-service/internal/domain"
	"quizroom-service/internal/infra/memory"
)

// quizFile is the YAML layout accepted by create-quiz.
type quizFile struct {
	Title       string            `yaml:"title"`
	Category    string            `yaml:"category"`
	CreatedBy   string            `yaml:"createdBy"`
	CreatorName string            `yaml:"creatorName"`
	Questions   []domain.Question `yaml:"questions"`
}

func loadQuizFile(path string) (domain.Identity, domain.Quiz, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Identity{}, domain.Quiz{}, err
	}
	var f quizFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return domain.Identity{}, domain.Quiz{}, fmt.Errorf("parse %s: %w", path, err)
	}
	creator := domain.Identity{UserID: f.CreatedBy, Username: f.CreatorName}
	return creator, domain.Quiz{Title: f.Title, Category: f.Category, Questions: f.Questions}, nil
}

// NewCreateQuizCmd stores a quiz described in a YAML file and prints its join code.
func NewCreateQuizCmd(configPath *string) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "create-quiz",
		Short: "Create a quiz from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.Postgres.URL == "" {
				return errNoPostgres
			}
			log := newLogger(cfg)
			defer func() { _ = log.Sync() }()

			creator, quiz, err := loadQuizFile(file)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			b, err := openBackends(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer b.Close()

			coord := app.NewCoordinator(memory.NewSessionStore(), b.store, app.WithLogger(log))
			defer coord.Close()

			code, err := coord.CreateQuiz(ctx, creator, quiz)
			if err != nil {
				return err
			}
			log.Info("quiz stored", zap.String("code", code), zap.String("file", file))
			fmt.Fprintln(cmd.OutOrStdout(), code)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to the quiz YAML file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
