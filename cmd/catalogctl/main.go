// catalogctl inspects and validates the fincoach quiz and course catalogue.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ashureev/fincoach/internal/catalog"
	"github.com/ashureev/fincoach/internal/diagnostic"
	"github.com/ashureev/fincoach/internal/domain"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "catalogctl",
		Short:         "Inspect the fincoach catalogue",
		Long:          "catalogctl validates and lists the quizzes and courses served by the fincoach server.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().String("dir", "", "Catalogue directory with quizzes.yaml and courses.yaml (default: embedded catalogue)")

	root.AddCommand(newValidateCmd())
	root.AddCommand(newCoursesCmd())
	root.AddCommand(newTopicsCmd())
	root.AddCommand(newRecommendCmd())
	return root
}

// loadCatalog uses --dir when set, otherwise the embedded catalogue.
func loadCatalog(cmd *cobra.Command) (*catalog.Catalog, error) {
	dir, _ := cmd.Flags().GetString("dir")
	if dir != "" {
		return catalog.LoadDir(dir)
	}
	return catalog.LoadEmbedded()
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the catalogue against its schema and invariants",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := loadCatalog(cmd)
			if err != nil {
				return err
			}
			questions := len(cat.Quizzes.DiagnosticPool())
			for _, t := range cat.Quizzes.Topics() {
				questions += len(cat.Quizzes.MicroPool(t))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d courses, %d questions\n", len(cat.Courses.All()), questions)
			return nil
		},
	}
}

func newCoursesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "courses",
		Short: "List courses (optionally filtered by difficulty)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			level, _ := cmd.Flags().GetString("level")
			cat, err := loadCatalog(cmd)
			if err != nil {
				return err
			}

			var courses []*domain.Course
			for _, c := range cat.Courses.All() {
				if level == "" || string(c.Level) == level {
					courses = append(courses, c)
				}
			}
			if len(courses) == 0 {
				return fmt.Errorf("no courses found for difficulty %q", level)
			}
			printCourses(cmd.OutOrStdout(), courses)
			return nil
		},
	}
	cmd.Flags().String("level", "", "Filter by difficulty (beginner, intermediate or advanced)")
	return cmd
}

func printCourses(w io.Writer, courses []*domain.Course) {
	fmt.Fprintf(w, "%-24s  %-32s  %-12s  %-15s  %5s  %s\n",
		"ID", "Title", "Difficulty", "Topic", "Pages", "Prerequisites")
	fmt.Fprintln(w, strings.Repeat("─", 110))
	for _, c := range courses {
		title := c.Title
		if len(title) > 32 {
			title = title[:29] + "..."
		}
		fmt.Fprintf(w, "%-24s  %-32s  %-12s  %-15s  %5d  %s\n",
			c.ID, title, c.Level, c.Topic, len(c.Pages), strings.Join(c.Prerequisites, ","))
	}
	fmt.Fprintf(w, "\n%d courses\n", len(courses))
}

func newTopicsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "topics",
		Short: "List micro-quiz topics and their question counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := loadCatalog(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, t := range domain.AllTopics {
				n := len(cat.Quizzes.MicroPool(t))
				if n == 0 {
					fmt.Fprintf(out, "%-15s  %3d  (no micro-quizzes)\n", t, n)
					continue
				}
				fmt.Fprintf(out, "%-15s  %3d\n", t, n)
			}
			return nil
		},
	}
}

func newRecommendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Show the course recommendation for a diagnostic score",
		RunE: func(cmd *cobra.Command, _ []string) error {
			score, _ := cmd.Flags().GetInt("score")
			topic, _ := cmd.Flags().GetString("topic")
			if score < 0 || score > 100 {
				return fmt.Errorf("score %d outside [0,100]", score)
			}
			if topic != "" && !domain.Topic(topic).Valid() {
				return fmt.Errorf("unknown topic %q", topic)
			}
			cat, err := loadCatalog(cmd)
			if err != nil {
				return err
			}
			printCourses(cmd.OutOrStdout(), diagnostic.Recommend(cat.Courses.All(), score, domain.Topic(topic)))
			return nil
		},
	}
	cmd.Flags().Int("score", 0, "Diagnostic score (0-100)")
	cmd.Flags().String("topic", "", "Bias recommendations toward a topic")
	return cmd
}
