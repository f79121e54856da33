package executor

import "context"

// IsTargetFile reports whether target is a regular file inside the
// instance. The probe goes through Execute so behavior is identical across
// backends; a nonzero exit is data here, not a fault.
func IsTargetFile(ctx context.Context, e Executor, target string) (bool, error) {
	res, err := e.Execute(ctx, []string{"test", "-f", target}, RunOptions{})
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}

// IsTargetDirectory reports whether target is a directory inside the
// instance.
func IsTargetDirectory(ctx context.Context, e Executor, target string) (bool, error) {
	res, err := e.Execute(ctx, []string{"test", "-d", target}, RunOptions{})
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}
