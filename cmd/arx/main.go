// Command arx is the command-line front end for the building repository
// engine: init, stage, commit, branch, merge, query, and review workflows
// over a building.json working state.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"arxcore/internal/config"
	"arxcore/internal/core"
	"arxcore/internal/logging"
	"arxcore/internal/query"
	"arxcore/internal/vcs"
	"arxcore/pkg/address"
	"arxcore/pkg/domain"
)

var exitFunc = os.Exit

func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

const usageText = `usage: arx [-config path] <command> [flags]

commands:
  init       create a repository from a building document
  list       list repositories in the data directory
  status     show the checked-out branch and pending changes
  set        stage a field change on one equipment item
  remove     stage removal of one equipment item
  commit     commit staged changes to the current branch
  log        show commit history
  diff       show the net changes between two commits
  branch     list, create, or delete branches
  checkout   switch the working state to a branch
  merge      merge one branch into another
  find       query equipment by address pattern and filters
  pr         open, approve, merge, close, or list pull requests
  issue      open, assign, close, or list issues
  snapshots  list archived snapshots and share URLs
`

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("arx", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "arxcore.yaml", "path to configuration file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprint(stderr, usageText)
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "arx: %v\n", err)
		return 1
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(stderr, "arx: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	svc, err := core.New(ctx, cfg, core.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(stderr, "arx: %v\n", err)
		return 1
	}
	defer func() { _ = svc.Close() }()

	app := &app{svc: svc, cfg: cfg, stdout: stdout, stderr: stderr}
	if err := app.dispatch(ctx, rest[0], rest[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 2
		}
		fmt.Fprintf(stderr, "arx %s: %v\n", rest[0], err)
		return 1
	}
	return 0
}

type app struct {
	svc    *core.Service
	cfg    config.Config
	stdout io.Writer
	stderr io.Writer
}

func (a *app) dispatch(ctx context.Context, command string, args []string) error {
	switch command {
	case "init":
		return a.cmdInit(ctx, args)
	case "list":
		return a.cmdList(ctx)
	case "status":
		return a.cmdStatus(ctx, args)
	case "set":
		return a.cmdSet(ctx, args)
	case "remove":
		return a.cmdRemove(ctx, args)
	case "commit":
		return a.cmdCommit(ctx, args)
	case "log":
		return a.cmdLog(ctx, args)
	case "diff":
		return a.cmdDiff(ctx, args)
	case "branch":
		return a.cmdBranch(ctx, args)
	case "checkout":
		return a.cmdCheckout(ctx, args)
	case "merge":
		return a.cmdMerge(ctx, args)
	case "find":
		return a.cmdFind(ctx, args)
	case "pr":
		return a.cmdPullRequest(ctx, args)
	case "issue":
		return a.cmdIssue(ctx, args)
	case "snapshots":
		return a.cmdSnapshots(ctx, args)
	default:
		fmt.Fprint(a.stderr, usageText)
		return fmt.Errorf("unknown command %q", command)
	}
}

func (a *app) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	return fs
}

func (a *app) cmdInit(ctx context.Context, args []string) error {
	fs := a.flagSet("init")
	file := fs.String("file", "", "building document to import (JSON)")
	author := fs.String("author", a.cfg.Author, "commit author")
	message := fs.String("message", "initial import", "root commit message")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return errors.New("-file is required")
	}
	raw, err := os.ReadFile(*file)
	if err != nil {
		return err
	}
	var repo domain.Repository
	if err := json.Unmarshal(raw, &repo); err != nil {
		return fmt.Errorf("parse %s: %w", *file, err)
	}
	commit, err := a.svc.Init(ctx, &repo, *author, *message)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "initialized %s at commit %s (%d entities)\n",
		repo.ID, commit.ID, commit.Stats.Entities)
	return nil
}

func (a *app) cmdList(ctx context.Context) error {
	ids, err := a.svc.List(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		fmt.Fprintln(a.stdout, id)
	}
	return nil
}

func (a *app) cmdStatus(ctx context.Context, args []string) error {
	fs := a.flagSet("status")
	repoID := fs.String("repo", "", "repository id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *repoID == "" {
		return errors.New("-repo is required")
	}
	branch, pending, err := a.svc.Status(ctx, *repoID)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "on branch %s\n", branch)
	if pending.IsEmpty() {
		fmt.Fprintln(a.stdout, "nothing to commit")
		return nil
	}
	for _, addr := range pending.Addresses() {
		op, _ := pending.Get(address.MustParse(addr))
		fmt.Fprintf(a.stdout, "  %-8s %s\n", op.Kind, addr)
	}
	return nil
}

func (a *app) cmdSet(ctx context.Context, args []string) error {
	fs := a.flagSet("set")
	repoID := fs.String("repo", "", "repository id")
	addr := fs.String("addr", "", "equipment address")
	author := fs.String("author", a.cfg.Author, "change author")
	health := fs.Int("health", -1, "new health score (0-100)")
	status := fs.String("status", "", "new equipment status")
	name := fs.String("name", "", "new display name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *repoID == "" || *addr == "" {
		return errors.New("-repo and -addr are required")
	}
	target, err := address.Parse(*addr)
	if err != nil {
		return err
	}
	changes, err := a.svc.Stage(ctx, *repoID, *author, func(r *domain.Repository) error {
		_, err := r.UpdateEquipment(target, func(e *domain.Equipment) error {
			if *health >= 0 {
				e.Health = *health
			}
			if *status != "" {
				e.Status = domain.EquipmentStatus(*status)
			}
			if *name != "" {
				e.Name = *name
			}
			return nil
		})
		return err
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "staged %d change(s)\n", changes.Len())
	return nil
}

func (a *app) cmdRemove(ctx context.Context, args []string) error {
	fs := a.flagSet("remove")
	repoID := fs.String("repo", "", "repository id")
	addr := fs.String("addr", "", "equipment address")
	author := fs.String("author", a.cfg.Author, "change author")
	reason := fs.String("reason", "decommissioned", "tombstone reason")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *repoID == "" || *addr == "" {
		return errors.New("-repo and -addr are required")
	}
	target, err := address.Parse(*addr)
	if err != nil {
		return err
	}
	_, err = a.svc.Stage(ctx, *repoID, *author, func(r *domain.Repository) error {
		if !r.RemoveEquipment(target, *reason) {
			return fmt.Errorf("no equipment at %s", target)
		}
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "staged removal of %s\n", target)
	return nil
}

func (a *app) cmdCommit(ctx context.Context, args []string) error {
	fs := a.flagSet("commit")
	repoID := fs.String("repo", "", "repository id")
	author := fs.String("author", a.cfg.Author, "commit author")
	message := fs.String("message", "", "commit message")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *repoID == "" || *message == "" {
		return errors.New("-repo and -message are required")
	}
	commit, err := a.svc.Commit(ctx, *repoID, *author, *message)
	if err != nil {
		if errors.Is(err, vcs.ErrEmptyChangeSet) {
			fmt.Fprintln(a.stdout, "nothing to commit")
			return nil
		}
		return err
	}
	fmt.Fprintf(a.stdout, "committed %s (+%d ~%d -%d >%d)\n", commit.ID,
		commit.Stats.Created, commit.Stats.Updated, commit.Stats.Deleted, commit.Stats.Moved)
	return nil
}

func (a *app) cmdLog(ctx context.Context, args []string) error {
	fs := a.flagSet("log")
	repoID := fs.String("repo", "", "repository id")
	branch := fs.String("branch", "", "branch name (default: checked-out)")
	limit := fs.Int("limit", 20, "maximum commits to show, 0 for all")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *repoID == "" {
		return errors.New("-repo is required")
	}
	commits, err := a.svc.History(ctx, *repoID, *branch, *limit)
	if err != nil {
		return err
	}
	for _, c := range commits {
		marker := " "
		if c.IsMerge() {
			marker = "M"
		}
		fmt.Fprintf(a.stdout, "%s %s  %s  %-12s %s\n",
			marker, c.ID, c.CreatedAt.Format("2006-01-02 15:04"), c.Author, c.Message)
	}
	return nil
}

func (a *app) cmdDiff(ctx context.Context, args []string) error {
	fs := a.flagSet("diff")
	repoID := fs.String("repo", "", "repository id")
	from := fs.String("from", "", "older commit id")
	to := fs.String("to", "", "newer commit id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *repoID == "" || *from == "" || *to == "" {
		return errors.New("-repo, -from, and -to are required")
	}
	changes, err := a.svc.Diff(ctx, *repoID, *from, *to)
	if err != nil {
		return err
	}
	for _, addr := range changes.Addresses() {
		op, _ := changes.Get(address.MustParse(addr))
		fmt.Fprintf(a.stdout, "%-8s %s\n", op.Kind, addr)
	}
	return nil
}

func (a *app) cmdBranch(ctx context.Context, args []string) error {
	fs := a.flagSet("branch")
	repoID := fs.String("repo", "", "repository id")
	create := fs.String("create", "", "create a branch from the checked-out one")
	remove := fs.String("delete", "", "delete a branch")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *repoID == "" {
		return errors.New("-repo is required")
	}
	switch {
	case *create != "":
		branch, err := a.svc.CreateBranch(ctx, *repoID, *create)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "created %s at %s\n", branch.Name, branch.Head)
		return nil
	case *remove != "":
		if err := a.svc.DeleteBranch(ctx, *repoID, *remove); err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "deleted %s\n", *remove)
		return nil
	default:
		branches, err := a.svc.Branches(ctx, *repoID)
		if err != nil {
			return err
		}
		current := a.svc.CurrentBranch(*repoID)
		for _, b := range branches {
			marker := " "
			if b.Name == current {
				marker = "*"
			}
			fmt.Fprintf(a.stdout, "%s %s  %s\n", marker, b.Name, b.Head)
		}
		return nil
	}
}

func (a *app) cmdCheckout(ctx context.Context, args []string) error {
	fs := a.flagSet("checkout")
	repoID := fs.String("repo", "", "repository id")
	branch := fs.String("branch", "", "branch to check out")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *repoID == "" || *branch == "" {
		return errors.New("-repo and -branch are required")
	}
	if err := a.svc.Checkout(ctx, *repoID, *branch); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "switched to %s\n", *branch)
	return nil
}

func (a *app) cmdMerge(ctx context.Context, args []string) error {
	fs := a.flagSet("merge")
	repoID := fs.String("repo", "", "repository id")
	source := fs.String("source", "", "branch to merge from")
	target := fs.String("target", vcs.DefaultBranch, "branch to merge into")
	author := fs.String("author", a.cfg.Author, "merge author")
	message := fs.String("message", "", "merge commit message")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *repoID == "" || *source == "" {
		return errors.New("-repo and -source are required")
	}
	outcome, err := a.svc.Merge(ctx, *repoID, *source, *target, *author, *message)
	if err != nil {
		var conflict *vcs.MergeConflictError
		if errors.As(err, &conflict) {
			fmt.Fprintf(a.stdout, "merge aborted: %d conflict(s)\n", len(conflict.Conflicts))
			for _, c := range conflict.Conflicts {
				fmt.Fprintf(a.stdout, "  %s: %s vs %s\n", c.Address, opKind(c.Ours), opKind(c.Theirs))
			}
		}
		return err
	}
	if outcome.UpToDate {
		fmt.Fprintf(a.stdout, "%s is already up to date\n", *target)
		return nil
	}
	fmt.Fprintf(a.stdout, "merged %s into %s at %s (%d operation(s))\n",
		*source, *target, outcome.Commit.ID, outcome.Applied.Len())
	return nil
}

func opKind(op *domain.Operation) string {
	if op == nil {
		return "unchanged"
	}
	return string(op.Kind)
}

func (a *app) cmdFind(ctx context.Context, args []string) error {
	fs := a.flagSet("find")
	repoID := fs.String("repo", "", "repository id")
	pattern := fs.String("pattern", "", "address pattern, * matches one segment")
	eqType := fs.String("type", "", "filter by equipment type")
	status := fs.String("status", "", "filter by equipment status")
	healthBelow := fs.Int("health-below", -1, "filter by health strictly below")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *repoID == "" || *pattern == "" {
		return errors.New("-repo and -pattern are required")
	}
	var preds []query.Predicate
	if *eqType != "" {
		preds = append(preds, query.ByType(*eqType))
	}
	if *status != "" {
		preds = append(preds, query.ByStatus(domain.EquipmentStatus(*status)))
	}
	if *healthBelow >= 0 {
		preds = append(preds, query.HealthBelow(*healthBelow))
	}
	matches, err := a.svc.Find(ctx, *repoID, *pattern, preds...)
	if err != nil {
		return err
	}
	for _, eq := range matches {
		fmt.Fprintf(a.stdout, "%s  %-12s %-12s health=%d\n",
			eq.Address, eq.Type, eq.Status, eq.Health)
	}
	return nil
}

func (a *app) cmdPullRequest(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: arx pr <open|approve|merge|close|comment|list> [flags]")
	}
	action, args := args[0], args[1:]
	fs := a.flagSet("pr " + action)
	repoID := fs.String("repo", "", "repository id")
	id := fs.String("id", "", "pull request id")
	source := fs.String("source", "", "source branch")
	target := fs.String("target", vcs.DefaultBranch, "target branch")
	author := fs.String("author", a.cfg.Author, "acting user")
	title := fs.String("title", "", "pull request title")
	body := fs.String("body", "", "description or comment body")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *repoID == "" {
		return errors.New("-repo is required")
	}
	switch action {
	case "open":
		if *source == "" || *title == "" {
			return errors.New("-source and -title are required")
		}
		pr, err := a.svc.OpenPullRequest(ctx, *repoID, *source, *target, *author, *title, *body)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "opened pull request %s: %s -> %s\n", pr.ID, pr.Source, pr.Target)
		return nil
	case "approve":
		pr, err := a.svc.ApprovePullRequest(ctx, *repoID, *id, *author)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "approved %s (%d approval(s))\n", pr.ID, len(pr.Approvals))
		return nil
	case "merge":
		pr, err := a.svc.MergePullRequest(ctx, *repoID, *id, *author)
		if err != nil {
			var conflict *vcs.MergeConflictError
			if errors.As(err, &conflict) {
				fmt.Fprintf(a.stdout, "merge blocked by %d conflict(s); resolve and retry\n", len(conflict.Conflicts))
			}
			return err
		}
		fmt.Fprintf(a.stdout, "merged %s at %s\n", pr.ID, pr.MergeCommit)
		return nil
	case "close":
		pr, err := a.svc.ClosePullRequest(ctx, *repoID, *id)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "closed %s\n", pr.ID)
		return nil
	case "comment":
		if *body == "" {
			return errors.New("-body is required")
		}
		pr, err := a.svc.CommentPullRequest(ctx, *repoID, *id, *author, *body)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "commented on %s\n", pr.ID)
		return nil
	case "list":
		prs, err := a.svc.PullRequests(ctx, *repoID)
		if err != nil {
			return err
		}
		for _, pr := range prs {
			fmt.Fprintf(a.stdout, "%s  %-8s %s -> %s  %s\n",
				pr.ID, pr.Status, pr.Source, pr.Target, pr.Title)
		}
		return nil
	default:
		return fmt.Errorf("unknown pr action %q", action)
	}
}

func (a *app) cmdIssue(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: arx issue <open|assign|close|list> [flags]")
	}
	action, args := args[0], args[1:]
	fs := a.flagSet("issue " + action)
	repoID := fs.String("repo", "", "repository id")
	id := fs.String("id", "", "issue id")
	title := fs.String("title", "", "issue title")
	body := fs.String("body", "", "issue body")
	assignee := fs.String("assignee", "", "user to assign")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *repoID == "" {
		return errors.New("-repo is required")
	}
	switch action {
	case "open":
		if *title == "" {
			return errors.New("-title is required")
		}
		issue, err := a.svc.OpenIssue(ctx, *repoID, *title, *body)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "opened issue %s\n", issue.ID)
		return nil
	case "assign":
		if *assignee == "" {
			return errors.New("-assignee is required")
		}
		issue, err := a.svc.AssignIssue(ctx, *repoID, *id, *assignee)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "assigned %s to %s\n", issue.ID, issue.Assignee)
		return nil
	case "close":
		issue, err := a.svc.CloseIssue(ctx, *repoID, *id)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "closed %s\n", issue.ID)
		return nil
	case "list":
		issues, err := a.svc.Issues(ctx, *repoID)
		if err != nil {
			return err
		}
		for _, issue := range issues {
			assignee := issue.Assignee
			if assignee == "" {
				assignee = "-"
			}
			fmt.Fprintf(a.stdout, "%s  %-8s %-12s %s\n", issue.ID, issue.Status, assignee, issue.Title)
		}
		return nil
	default:
		return fmt.Errorf("unknown issue action %q", action)
	}
}

func (a *app) cmdSnapshots(ctx context.Context, args []string) error {
	fs := a.flagSet("snapshots")
	repoID := fs.String("repo", "", "repository id")
	share := fs.String("share", "", "commit id to produce a download URL for")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *repoID == "" {
		return errors.New("-repo is required")
	}
	if *share != "" {
		url, err := a.svc.SnapshotURL(ctx, *repoID, *share)
		if err != nil {
			return err
		}
		fmt.Fprintln(a.stdout, url)
		return nil
	}
	objects, err := a.svc.Snapshots(ctx, *repoID)
	if err != nil {
		return err
	}
	for _, obj := range objects {
		commitID := strings.TrimSuffix(strings.TrimPrefix(obj.Key, *repoID+"/"), ".json.gz")
		fmt.Fprintf(a.stdout, "%s  %8d bytes  %s\n", commitID, obj.Size, obj.StoredAt.Format("2006-01-02 15:04"))
	}
	return nil
}
