package neural

import (
	"context"
	"testing"
	"time"

	"github.com/dineflow/recommend/core"
)

// stubData 是可阻塞的训练数据源，用于观察 training 中间态。
type stubData struct {
	users   map[string]map[string]float64
	release chan struct{} // 非空时 AllUsers 阻塞直到关闭
}

func (s *stubData) AllUsers() []string {
	if s.release != nil {
		<-s.release
	}
	out := make([]string, 0, len(s.users))
	for u := range s.users {
		out = append(out, u)
	}
	return out
}

func (s *stubData) Weights(userID string) map[string]float64 { return s.users[userID] }

func waitState(t *testing.T, tr *Trainer, want State) TrainingState {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st := tr.Status()
		if st.Status == want {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("trainer never reached %s, last state: %+v", want, tr.Status())
	return TrainingState{}
}

func sampleData() *stubData {
	return &stubData{users: map[string]map[string]float64{
		"u1": {"noodles": 6, "hotpot": 2},
		"u2": {"noodles": 5, "dumpling": 3},
		"u3": {"hotpot": 4, "dumpling": 1},
	}}
}

// TestTrainerLifecycle idle → training → trained，训练完可取模型。
func TestTrainerLifecycle(t *testing.T) {
	tr := NewTrainer(sampleData(), Config{Epochs: 5}, nil)

	if st := tr.Status(); st.Status != StateIdle {
		t.Fatalf("expected idle, got %s", st.Status)
	}
	if _, err := tr.Model(); !core.IsModelUnavailable(err) {
		t.Fatalf("untrained model must be unavailable, got %v", err)
	}

	if err := tr.Train(context.Background()); err != nil {
		t.Fatalf("train failed: %v", err)
	}
	st := waitState(t, tr, StateTrained)
	if st.LastTrainedAt == nil {
		t.Error("lastTrainedAt should be set after training")
	}

	model, err := tr.Model()
	if err != nil {
		t.Fatalf("model should be available: %v", err)
	}
	if _, seen := model.Predict("u1", "noodles"); !seen {
		t.Error("trained pair should be seen")
	}
	if _, seen := model.Predict("stranger", "noodles"); seen {
		t.Error("unknown user must be flagged unseen")
	}
}

// TestTrainerSingleFlight 训练中再次触发必须拒绝且不打断当前训练。
func TestTrainerSingleFlight(t *testing.T) {
	data := sampleData()
	data.release = make(chan struct{})
	tr := NewTrainer(data, Config{Epochs: 2}, nil)

	if err := tr.Train(context.Background()); err != nil {
		t.Fatalf("first train failed: %v", err)
	}
	waitState(t, tr, StateTraining)

	err := tr.Train(context.Background())
	dErr := core.GetDomainError(err)
	if dErr == nil || dErr.Code != core.ErrorCodeTrainingInProgress {
		t.Fatalf("expected TRAINING_IN_PROGRESS, got %v", err)
	}

	close(data.release)
	waitState(t, tr, StateTrained)
}

// TestTrainerFailure 空数据训练失败：状态为 failed，错误只在状态里可见。
func TestTrainerFailure(t *testing.T) {
	tr := NewTrainer(&stubData{users: map[string]map[string]float64{}}, Config{}, nil)

	if err := tr.Train(context.Background()); err != nil {
		t.Fatalf("trigger itself must not fail: %v", err)
	}
	st := waitState(t, tr, StateFailed)
	if st.LastError == "" {
		t.Error("failed state should carry the error")
	}
	if _, err := tr.Model(); !core.IsModelUnavailable(err) {
		t.Errorf("failed trainer must not serve a model, got %v", err)
	}

	// 失败后允许重新训练
	if err := tr.Train(context.Background()); err != nil {
		t.Fatalf("retrain after failure should be accepted: %v", err)
	}
}

// TestModelLearnsPreferences 模型应学到明显的口味差异。
func TestModelLearnsPreferences(t *testing.T) {
	// u1 重度偏好 noodles，冷落 hotpot
	data := &stubData{users: map[string]map[string]float64{
		"u1": {"noodles": 10, "hotpot": 1},
		"u2": {"noodles": 9, "hotpot": 1},
		"u3": {"noodles": 10, "hotpot": 2},
	}}
	model, err := fitModel(context.Background(), data.users, Config{}.withDefaults())
	if err != nil {
		t.Fatal(err)
	}

	likes, _ := model.Predict("u1", "noodles")
	dislikes, _ := model.Predict("u1", "hotpot")
	if likes <= dislikes {
		t.Errorf("model failed to learn preference: noodles=%v hotpot=%v", likes, dislikes)
	}
}
