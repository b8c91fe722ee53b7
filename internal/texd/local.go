package texd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"coauthor/internal/models"
)

// LocalEngine runs the compile command itself instead of delegating to a
// daemon. One argv template per doc type (latexmk, pandoc, ...); the source
// path is appended as the last argument. Combined output becomes the job log.
type LocalEngine struct {
	workDir  string
	commands map[models.DocType][]string
}

func NewLocalEngine(workDir string, commands map[models.DocType][]string) *LocalEngine {
	return &LocalEngine{
		workDir:  workDir,
		commands: commands,
	}
}

// Compile runs the configured command in a per-job directory. A non-zero exit
// is a source error: reported with the tool's output verbatim, not retried.
// Only a missing command or an unwritable work dir is an engine error.
func (e *LocalEngine) Compile(ctx context.Context, req models.CompileRequest) (models.CompileResult, error) {
	argv, ok := e.commands[req.DocType]
	if !ok || len(argv) == 0 {
		return models.CompileResult{}, fmt.Errorf("no compile command configured for doc type %q", req.DocType)
	}

	jobDir := filepath.Join(e.workDir, req.JobID)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return models.CompileResult{}, fmt.Errorf("create build dir: %w", err)
	}

	srcPath := filepath.Join(jobDir, sourceFileName(req.DocType))
	if err := os.WriteFile(srcPath, []byte(req.Content), 0o644); err != nil {
		return models.CompileResult{}, fmt.Errorf("write source file: %w", err)
	}

	cmd := exec.CommandContext(ctx, argv[0], append(append([]string{}, argv[1:]...), srcPath)...)
	cmd.Dir = jobDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return models.CompileResult{
				Status: models.CompileFailed,
				Log:    string(out),
			}, nil
		}
		return models.CompileResult{}, fmt.Errorf("run compile command: %w", err)
	}

	return models.CompileResult{
		Status:       models.CompileCompleted,
		ArtifactPath: filepath.Join(jobDir, artifactFileName(req.DocType)),
		Log:          string(out),
	}, nil
}

func sourceFileName(docType models.DocType) string {
	if docType == models.DocTypeMarkdown {
		return "source.md"
	}
	return "source.tex"
}

func artifactFileName(docType models.DocType) string {
	if docType == models.DocTypeMarkdown {
		return "source.html"
	}
	return "source.pdf"
}
