// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 为命令行运行提供后台观测端点。

# 核心类型

  - Manager：封装 net/http.Server，非阻塞启动，Shutdown 幂等，
    Addr 返回实际监听地址（支持 ":0" 随机端口）。
  - NewObservabilityHandler：挂载 /metrics（Prometheus 抓取）与
    /healthz（按名称执行依赖检查，任一失败返回 503）。
*/
package server
