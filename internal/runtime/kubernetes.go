package runtime

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"fastlane/internal/ferrors"
)

// KubernetesRuntime implements Runtime on top of Kubernetes Jobs, for pools
// that prefer to address a "host" as a namespace rather than a Docker
// daemon. It is an alternate backend behind the same Runtime contract; the
// Dispatcher's pool/host selection logic is unaware of the distinction.
type KubernetesRuntime struct {
	clientset      kubernetes.Interface
	defaultNS      string
	serviceAccount string

	mu       sync.Mutex
	jobNames map[string]string // containerID -> k8s Job name
	podNames map[string]string // containerID -> pod name, once known
}

// KubernetesConfig sets the service account for the pods of Jobs created by
// this runtime.
type KubernetesConfig struct {
	ServiceAccount string
}

func homeDir() string {
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	return os.Getenv("USERPROFILE")
}

// NewKubernetesRuntime builds a KubernetesRuntime, trying in-cluster config
// first and falling back to the local kubeconfig.
func NewKubernetesRuntime(cfg KubernetesConfig) (*KubernetesRuntime, error) {
	restCfg, err := rest.InClusterConfig()
	if err != nil {
		kubeconfig := filepath.Join(homeDir(), ".kube", "config")
		restCfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("kubernetes runtime: build config: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("kubernetes runtime: build clientset: %w", err)
	}

	return &KubernetesRuntime{
		clientset:      clientset,
		defaultNS:      "default",
		serviceAccount: cfg.ServiceAccount,
		jobNames:       make(map[string]string),
		podNames:       make(map[string]string),
	}, nil
}

// namespace treats the Dispatcher's "host" identifier as a namespace name.
func (k *KubernetesRuntime) namespace(host string) string {
	if host == "" {
		return k.defaultNS
	}
	return host
}

func (k *KubernetesRuntime) Pull(ctx context.Context, host, image string) error {
	return nil // image pull is handled by the kubelet on pod scheduling
}

func (k *KubernetesRuntime) Create(ctx context.Context, host string, opts CreateOptions) (string, error) {
	ns := k.namespace(host)
	jobName := fmt.Sprintf("fastlane-%s", randomSuffix())

	var envVars []corev1.EnvVar
	for key, value := range opts.Env {
		envVars = append(envVars, corev1.EnvVar{Name: key, Value: value})
	}

	backoffLimit := int32(0) // fastlane owns retries; Kubernetes must not also retry
	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      jobName,
			Namespace: ns,
			Labels:    map[string]string{"app.kubernetes.io/managed-by": "fastlane"},
		},
		Spec: batchv1.JobSpec{
			BackoffLimit: &backoffLimit,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: map[string]string{
						"job-name":                     jobName,
						"app.kubernetes.io/managed-by": "fastlane",
					},
				},
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					Containers: []corev1.Container{{
						Name:    "job",
						Image:   opts.Image,
						Command: opts.Command,
						Env:     envVars,
					}},
				},
			},
		},
	}
	if k.serviceAccount != "" {
		job.Spec.Template.Spec.ServiceAccountName = k.serviceAccount
	}

	if _, err := k.clientset.BatchV1().Jobs(ns).Create(ctx, job, metav1.CreateOptions{}); err != nil {
		return "", fmt.Errorf("kubernetes runtime: create job %s/%s: %w", ns, jobName, err)
	}

	containerID := ns + "/" + jobName
	k.mu.Lock()
	k.jobNames[containerID] = jobName
	k.mu.Unlock()

	return containerID, nil
}

// Start is a no-op: Kubernetes Jobs begin running as soon as they are
// created and scheduled.
func (k *KubernetesRuntime) Start(ctx context.Context, host, containerID string) error {
	return nil
}

func (k *KubernetesRuntime) Stop(ctx context.Context, host, containerID string) error {
	ns, jobName := k.split(containerID)
	propagation := metav1.DeletePropagationForeground
	if err := k.clientset.BatchV1().Jobs(ns).Delete(ctx, jobName, metav1.DeleteOptions{PropagationPolicy: &propagation}); err != nil {
		return fmt.Errorf("kubernetes runtime: delete job %s/%s: %w", ns, jobName, err)
	}
	return nil
}

func (k *KubernetesRuntime) Inspect(ctx context.Context, host, containerID string) (Inspection, error) {
	ns, jobName := k.split(containerID)

	job, err := k.clientset.BatchV1().Jobs(ns).Get(ctx, jobName, metav1.GetOptions{})
	if err != nil {
		return Inspection{}, fmt.Errorf("kubernetes runtime: get job %s/%s: %w", ns, jobName, err)
	}

	insp := Inspection{Running: true}
	if job.Status.StartTime != nil {
		insp.StartedAt = job.Status.StartTime.Time
	}

	if job.Status.Succeeded > 0 {
		insp.Running = false
		insp.ExitCode = 0
		if job.Status.CompletionTime != nil {
			insp.FinishedAt = job.Status.CompletionTime.Time
		}
		return insp, nil
	}
	if job.Status.Failed > 0 {
		insp.Running = false
		insp.ExitCode = k.failedExitCode(ctx, ns, jobName)
		insp.FinishedAt = time.Now().UTC()
		return insp, nil
	}

	// BackoffLimit: 0 means a pod stuck pulling its image never produces a
	// terminated container, so Job.Status.Failed never increments; a stuck
	// ErrImagePull/ImagePullBackOff has to be detected on the pod directly.
	if reason, ok := k.pullFailureReason(ctx, ns, jobName); ok {
		return Inspection{}, ferrors.Permanent(fmt.Errorf("kubernetes runtime: pull failed for job %s/%s: %s", ns, jobName, reason))
	}

	return insp, nil
}

func (k *KubernetesRuntime) pullFailureReason(ctx context.Context, ns, jobName string) (string, bool) {
	podName, err := k.findPod(ctx, ns, jobName)
	if err != nil {
		return "", false
	}
	pod, err := k.clientset.CoreV1().Pods(ns).Get(ctx, podName, metav1.GetOptions{})
	if err != nil || len(pod.Status.ContainerStatuses) == 0 {
		return "", false
	}
	waiting := pod.Status.ContainerStatuses[0].State.Waiting
	if waiting == nil {
		return "", false
	}
	switch waiting.Reason {
	case "ErrImagePull", "ImagePullBackOff":
		return waiting.Reason, true
	default:
		return "", false
	}
}

func (k *KubernetesRuntime) failedExitCode(ctx context.Context, ns, jobName string) int {
	podName, err := k.findPod(ctx, ns, jobName)
	if err != nil {
		return -1
	}
	pod, err := k.clientset.CoreV1().Pods(ns).Get(ctx, podName, metav1.GetOptions{})
	if err != nil || len(pod.Status.ContainerStatuses) == 0 {
		return -1
	}
	term := pod.Status.ContainerStatuses[0].State.Terminated
	if term == nil {
		return -1
	}
	return int(term.ExitCode)
}

func (k *KubernetesRuntime) Logs(ctx context.Context, host, containerID string, tailBytes int64) ([]byte, []byte, error) {
	ns, jobName := k.split(containerID)
	podName, err := k.findPod(ctx, ns, jobName)
	if err != nil {
		return nil, nil, err
	}

	req := k.clientset.CoreV1().Pods(ns).GetLogs(podName, &corev1.PodLogOptions{Container: "job"})
	rc, err := req.Stream(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("kubernetes runtime: stream logs %s/%s: %w", ns, podName, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, nil, err
	}
	// Kubernetes pod logs interleave stdout/stderr; fastlane's stderr tail
	// is left empty here rather than guessed at.
	return tailN(data, tailBytes), nil, nil
}

func (k *KubernetesRuntime) Rename(ctx context.Context, host, containerID, name string) error {
	ns, jobName := k.split(containerID)
	job, err := k.clientset.BatchV1().Jobs(ns).Get(ctx, jobName, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("kubernetes runtime: get job %s/%s: %w", ns, jobName, err)
	}
	if job.Labels == nil {
		job.Labels = map[string]string{}
	}
	job.Labels["fastlane/status-tag"] = name
	_, err = k.clientset.BatchV1().Jobs(ns).Update(ctx, job, metav1.UpdateOptions{})
	return err
}

func (k *KubernetesRuntime) List(ctx context.Context, host, labelFilter string) ([]string, error) {
	ns := k.namespace(host)
	jobs, err := k.clientset.BatchV1().Jobs(ns).List(ctx, metav1.ListOptions{LabelSelector: "app.kubernetes.io/managed-by=fastlane"})
	if err != nil {
		return nil, fmt.Errorf("kubernetes runtime: list jobs in %s: %w", ns, err)
	}

	ids := make([]string, 0, len(jobs.Items))
	for _, j := range jobs.Items {
		if labelFilter == "" || strings.HasPrefix(j.Labels["fastlane/status-tag"], labelFilter) {
			ids = append(ids, ns+"/"+j.Name)
		}
	}
	return ids, nil
}

func (k *KubernetesRuntime) Remove(ctx context.Context, host, containerID string) error {
	ns, jobName := k.split(containerID)
	propagation := metav1.DeletePropagationForeground
	err := k.clientset.BatchV1().Jobs(ns).Delete(ctx, jobName, metav1.DeleteOptions{PropagationPolicy: &propagation})
	if err != nil {
		return fmt.Errorf("kubernetes runtime: remove job %s/%s: %w", ns, jobName, err)
	}
	return nil
}

func (k *KubernetesRuntime) StreamLogs(ctx context.Context, host, containerID string) (io.ReadCloser, error) {
	ns, jobName := k.split(containerID)
	podName, err := k.findPod(ctx, ns, jobName)
	if err != nil {
		return nil, err
	}
	req := k.clientset.CoreV1().Pods(ns).GetLogs(podName, &corev1.PodLogOptions{Container: "job", Follow: true})
	return req.Stream(ctx)
}

func (k *KubernetesRuntime) findPod(ctx context.Context, ns, jobName string) (string, error) {
	pods, err := k.clientset.CoreV1().Pods(ns).List(ctx, metav1.ListOptions{LabelSelector: fmt.Sprintf("job-name=%s", jobName)})
	if err != nil {
		return "", fmt.Errorf("kubernetes runtime: list pods for job %s: %w", jobName, err)
	}
	if len(pods.Items) == 0 {
		return "", fmt.Errorf("kubernetes runtime: no pod found for job %s", jobName)
	}
	return pods.Items[0].Name, nil
}

func (k *KubernetesRuntime) split(containerID string) (namespace, jobName string) {
	for i := len(containerID) - 1; i >= 0; i-- {
		if containerID[i] == '/' {
			return containerID[:i], containerID[i+1:]
		}
	}
	return k.defaultNS, containerID
}

func randomSuffix() string {
	return fmt.Sprintf("%x", time.Now().UnixNano())
}
